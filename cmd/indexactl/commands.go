package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// jobView mirrors the job JSON the server returns.
type jobView struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Status    string    `json:"status"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  struct {
		Stage        string `json:"stage"`
		Error        string `json:"error"`
		StageHistory []struct {
			Stage string    `json:"stage"`
			At    time.Time `json:"at"`
		} `json:"stage_history"`
	} `json:"metadata"`
}

// --- signup / login ---

var signupCmd = &cobra.Command{
	Use:   "signup <email> <password>",
	Short: "Create an account and print an API token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/signup", map[string]string{
			"first_name": name,
			"email":      args[0],
			"password":   args[1],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Account created for %s", args[0])
		fmt.Printf("export INDEXA_TOKEN=%s\n", result["token"])
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Log in and print an API token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/login", map[string]string{
			"email":    args[0],
			"password": args[1],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Logged in as %s", args[0])
		fmt.Printf("export INDEXA_TOKEN=%s\n", result["token"])
		return nil
	},
}

func init() {
	signupCmd.Flags().String("name", "", "display name for the account")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and queue it for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postFile(cmd.Context(), "/api/documents/upload", args[0], map[string]string{
			"analysis_target": target,
		})
		if err != nil {
			return err
		}

		var job jobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		printSuccess("Queued job %s", job.ID)
		printStatus("File", "%s (%d bytes)", job.FileName, job.FileSize)
		printStatus("Stage", "%s", job.Metadata.Stage)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("target", "text", "analysis target: text, tables or forms")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents")
		if err != nil {
			return err
		}

		var jobs []jobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, job := range jobs {
			fmt.Printf("%s  %-10s  %-10s  %s\n",
				colorize(colorCyan, shortID(job.ID)),
				job.Status,
				job.Metadata.Stage,
				job.FileName,
			)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one document with its pipeline progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents/"+args[0])
		if err != nil {
			return err
		}

		if asJSON {
			var raw any
			if err := decodeJSON(resp, &raw); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(raw)
		}

		var result struct {
			Job            jobView `json:"job"`
			ExtractedChars int     `json:"extracted_chars"`
			DownloadURL    string  `json:"download_url"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("File", "%s", result.Job.FileName)
		printStatus("Status", "%s", result.Job.Status)
		printStatus("Stage", "%s", result.Job.Metadata.Stage)
		if result.ExtractedChars > 0 {
			printStatus("Extracted", "%d chars", result.ExtractedChars)
		}
		if result.Job.Metadata.Error != "" {
			printStatus("Error", "%s", result.Job.Metadata.Error)
		}
		if result.DownloadURL != "" {
			printStatus("Download", "%s", result.DownloadURL)
		}
		if len(result.Job.Metadata.StageHistory) > 0 {
			fmt.Println("  History:")
			for _, entry := range result.Job.Metadata.StageHistory {
				fmt.Printf("    %-12s %s\n", entry.Stage, entry.At.Format(time.RFC3339))
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- chunks ---

var chunksCmd = &cobra.Command{
	Use:   "chunks <job-id>",
	Short: "List the indexed chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents/"+args[0]+"/chunks")
		if err != nil {
			return err
		}

		var chunks []struct {
			Position   int    `json:"position"`
			Text       string `json:"text"`
			CharOffset int    `json:"char_offset"`
			TokenCount int    `json:"token_count"`
		}
		if err := decodeJSON(resp, &chunks); err != nil {
			return err
		}

		if len(chunks) == 0 {
			fmt.Println("No chunks indexed yet.")
			return nil
		}

		for _, ch := range chunks {
			fmt.Printf("%s offset=%d tokens=%d\n",
				colorize(colorCyan, fmt.Sprintf("[%d]", ch.Position)),
				ch.CharOffset,
				ch.TokenCount,
			)
			fmt.Printf("  %s\n", truncate(ch.Text, 120))
		}
		return nil
	},
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <job-id>",
	Short: "Run the ingestion pipeline for one queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/ingest/"+args[0], nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
			JobID   string `json:"jobId"`
			Chunks  int    `json:"chunks"`
			Reason  string `json:"reason"`
		}

		// A failed pipeline run is reported as 422 with a reason, not as a
		// bare HTTP error.
		if resp.StatusCode == http.StatusUnprocessableEntity {
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("decoding failure response: %w", err)
			}
			printWarning("Job %s failed: %s", result.JobID, result.Reason)
			return fmt.Errorf("ingestion failed")
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}

		if result.Message != "" {
			printSuccess("Job %s already processed", result.JobID)
			return nil
		}
		printSuccess("Job %s indexed into %d chunks", result.JobID, result.Chunks)
		return nil
	},
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
