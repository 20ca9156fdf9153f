package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/sentinel-cvx/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a constraint set file",
	Long: `Decodes a constraint set file and trial-builds every constraint,
reporting all problems at once.

Example:
  backtest validate --constraints neutral.yaml`,
	RunE: runValidate,
}

var validateFile string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFile, "constraints", "", "constraint set file")
	_ = validateCmd.MarkFlagRequired("constraints")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	set, err := config.LoadConstraintSet(validateFile)
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			fmt.Fprintf(out, "  %s\n", e.Error())
		}
		return fmt.Errorf("%s: %d problem(s)", validateFile, len(verrs))
	}
	if err != nil {
		return err
	}

	name := set.Name
	if name == "" {
		name = validateFile
	}
	fmt.Fprintf(out, "%s: %d constraint(s) ok\n", name, len(set.Constraints))
	for _, spec := range set.Constraints {
		fmt.Fprintf(out, "  - %s\n", spec.Type)
	}
	return nil
}
