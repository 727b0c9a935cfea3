package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/learndebug/internal/diagnosis"
	"github.com/abhisek/learndebug/internal/extract"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Diagnose one explanation from the command line",
	Example: `  learndebug diagnose --user u1 --concept "React State" \
    --explanation "state is just a variable that re-renders the page"
  learndebug diagnose --user u1 --session <id> --explanation "..." --file notes.pdf`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().StringP("user", "u", "", "User id (required)")
	diagnoseCmd.Flags().StringP("explanation", "e", "", "The learner's explanation (required)")
	diagnoseCmd.Flags().StringP("concept", "c", "", "Concept name; inferred when empty")
	diagnoseCmd.Flags().StringP("session", "s", "", "Continue an existing session")
	diagnoseCmd.Flags().StringP("file", "f", "", "Attach a PDF, image or DOCX file")
	diagnoseCmd.Flags().Bool("json", false, "Print the result as JSON")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	in := diagnosis.Input{}
	in.UserID, _ = cmd.Flags().GetString("user")
	in.UserExplanation, _ = cmd.Flags().GetString("explanation")
	in.ConceptName, _ = cmd.Flags().GetString("concept")
	in.SessionID, _ = cmd.Flags().GetString("session")
	filePath, _ := cmd.Flags().GetString("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	if filePath != "" {
		att, err := readAttachment(filePath)
		if err != nil {
			return err
		}
		in.Attachment = att
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	pipeline, err := newPipeline(ctx, cfg, s, log, nil)
	if err != nil {
		return fmt.Errorf("model provider not configured: %w", err)
	}

	res, err := pipeline.Run(ctx, in)
	if err != nil {
		var de *diagnosis.Error
		if errors.As(err, &de) && de.Kind == diagnosis.KindInputValidation {
			return fmt.Errorf("--%s: %w", flagFor(de.Field), de.Err)
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func readAttachment(path string) (*extract.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	mediaType := extract.ResolveMediaType(mime.TypeByExtension(filepath.Ext(path)), data)
	if !extract.Supported(mediaType) {
		return nil, fmt.Errorf("unsupported attachment type %q (use a PDF, an image or a DOCX file)", mediaType)
	}
	return &extract.Attachment{Filename: filepath.Base(path), MediaType: mediaType, Data: data}, nil
}

func flagFor(field string) string {
	switch field {
	case "user_id":
		return "user"
	case "user_explanation":
		return "explanation"
	default:
		return field
	}
}

func printResult(res *diagnosis.Result) {
	sep := strings.Repeat("─", 60)

	fmt.Printf("Concept:    %s\n", res.ConceptName)
	fmt.Printf("Session:    %s\n", res.SessionID)
	fmt.Printf("Diagnosis:  #%d\n", res.DiagnosisID)
	fmt.Printf("Confidence: %d%%\n", res.Confidence)
	fmt.Printf("Coverage:   %d%%\n", res.KnowledgeCoverage)
	fmt.Println(sep)
	fmt.Println("Root cause:")
	fmt.Println("  " + res.RootCause)
	fmt.Println()
	fmt.Println("Repair question:")
	fmt.Println("  " + res.RepairQuestion)

	if len(res.MissingPrerequisites) > 0 {
		fmt.Println()
		fmt.Println("Missing prerequisites:")
		for _, p := range res.MissingPrerequisites {
			fmt.Println("  - " + p)
		}
	}
	if len(res.LearningResources) > 0 {
		fmt.Println()
		fmt.Println("Learning resources:")
		for _, r := range res.LearningResources {
			fmt.Printf("  - [%s] %s\n", r.Type, r.Title)
			if r.URL != "" {
				fmt.Printf("    %s\n", r.URL)
			}
			if r.Relevance != "" {
				fmt.Printf("    %s\n", r.Relevance)
			}
		}
	}
}
