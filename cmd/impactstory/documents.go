package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ImpactStory/internal/documents"
)

// --- ingest command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <organization> <url-or-file>...",
	Short: "Add annual reports for an organization to the index",
	Long: "Fetches each URL (or reads each local .txt, .md or .html file), extracts the readable text, " +
		"splits it into passages and indexes them for the internal-data stage. Re-ingesting a source replaces it.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		d := cfg.Documents
		ingester := documents.NewIngester(db, d.ChunkWords, d.Concurrency, d.FetchTimeout, logger)
		outcomes, err := ingester.IngestAll(cmd.Context(), args[0], args[1:])

		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("  FAIL %s: %v\n", o.Source, o.Err)
				continue
			}
			fmt.Printf("  OK   %s (%q, %d passages)\n", o.Source, o.Title, o.Chunks)
		}
		fmt.Printf("\nIngested %d of %d sources for %s\n", len(outcomes)-failed, len(outcomes), args[0])
		if err != nil {
			return err
		}
		if failed == len(outcomes) {
			return fmt.Errorf("no source could be ingested")
		}
		return nil
	},
}

// --- documents command ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage indexed annual reports",
}

var documentsListCmd = &cobra.Command{
	Use:   "list [organization]",
	Short: "List indexed documents",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		subject := ""
		if len(args) == 1 {
			subject = args[0]
		}
		docs, err := db.ListDocuments(cmd.Context(), subject)
		if err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents indexed. Use 'impactstory ingest' to add some.")
			return nil
		}

		fmt.Printf("%-5s %-24s %-8s %-8s %s\n", "ID", "Organization", "Passages", "Words", "Source")
		fmt.Println(strings.Repeat("-", 80))
		for _, d := range docs {
			fmt.Printf("%-5d %-24s %-8d %-8d %s\n", d.ID, truncate(d.Subject, 24), d.ChunkCount, d.WordCount, d.Source)
		}
		return nil
	},
}

var documentsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a document and its passages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ID: %s", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		doc, err := db.GetDocument(cmd.Context(), id)
		if err != nil {
			return err
		}
		if err := db.DeleteDocument(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Removed document %d: %s (%s)\n", id, doc.Title, doc.Subject)
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsRemoveCmd)
}

// --- search command ---

var searchCmd = &cobra.Command{
	Use:   "search <organization> <query>",
	Short: "Query the annual report index the way the internal-data stage does",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		index := documents.NewIndex(db, cfg.Documents.MaxResults, logger)
		fmt.Print(index.SearchDocuments(cmd.Context(), args[0], strings.Join(args[1:], " ")))
		fmt.Println()
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
