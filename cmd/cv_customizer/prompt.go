package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/cv-customizer/internal/customizer"
	"github.com/jonathan/cv-customizer/internal/prompts"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the prompt version and system instruction",
	Long:  `Prints the behavioral contract sent to the model, for auditing. The CV and job description are substituted into the user template at call time.`,
	Args:  cobra.NoArgs,
	RunE:  runPrompt,
}

var (
	promptShowTemplate bool
	promptListKeys     bool
)

func init() {
	promptCmd.Flags().BoolVar(&promptShowTemplate, "template", false, "Also print the user message template")
	promptCmd.Flags().BoolVar(&promptListKeys, "keys", false, "List the keys in the embedded prompt file and exit")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if promptListKeys {
		keys, err := prompts.List(prompts.CustomizationFile)
		if err != nil {
			return err
		}
		for _, key := range keys {
			_, _ = fmt.Fprintln(out, key)
		}
		return nil
	}

	p, err := customizer.DefaultPrompt()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Prompt version: %s\n\n", p.Version)
	_, _ = fmt.Fprintf(out, "%s\n", p.SystemInstruction)
	if promptShowTemplate {
		_, _ = fmt.Fprintf(out, "\n--- user message template ---\n%s\n", p.UserTemplate)
	}
	return nil
}
