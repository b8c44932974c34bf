// Command ocrctl is a small operator CLI for exercising a running
// ocr-service instance: submit a PDF and print the extracted text, or check
// its health. Grounded on divitsinghall-Vortex's vortex-cli command tree
// (spf13/cobra) and its fatih/color success/failure styling.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpClient = &http.Client{Timeout: 5 * time.Minute}
)

func main() {
	root := &cobra.Command{
		Use:   "ocrctl",
		Short: "Operator CLI for an ocr-service instance",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "ocr-service base URL")
	root.AddCommand(submitCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Submit a PDF for OCR and print the extracted text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(args[0])
		},
	}
}

func submit(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverAddr+"/ocr", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		color.Red("ocr-service returned %s", resp.Status)
		fmt.Println(string(respBody))
		return fmt.Errorf("submit failed with status %d", resp.StatusCode)
	}

	var result struct {
		Text      string `json:"text"`
		PageCount *int   `json:"page_count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	pages := "unknown"
	if result.PageCount != nil {
		pages = fmt.Sprint(*result.PageCount)
	}
	color.Green("ok — %s pages", pages)
	fmt.Println(result.Text)
	return nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ocr-service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return health()
		},
	}
}

func health() error {
	resp, err := httpClient.Get(serverAddr + "/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusOK {
		color.Green("healthy")
	} else {
		color.Red("unhealthy (%s)", resp.Status)
	}
	fmt.Println(string(body))
	return nil
}
