package ctl

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

var (
	fbEventID  string
	fbEntityID string
	fbRuleID   string
	fbFalsePos bool
	fbAnalyst  string
	fbComment  string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Submit analyst feedback on a verdict",
	Long: `Submit an analyst disposition for a verdict. A false positive
against an entity lowers that entity's baseline confidence; naming a
rule updates the rule's accuracy counters.

Examples:
  kestrelctl feedback --entity alice --false-positive --analyst bob
  kestrelctl feedback --rule R-1042 --analyst bob --comment "confirmed"`,
	RunE: runFeedback,
}

func init() {
	feedbackCmd.Flags().StringVar(&fbEventID, "event", "", "verdict event ID")
	feedbackCmd.Flags().StringVar(&fbEntityID, "entity", "", "entity the disposition applies to")
	feedbackCmd.Flags().StringVar(&fbRuleID, "rule", "", "detection rule the disposition applies to")
	feedbackCmd.Flags().BoolVar(&fbFalsePos, "false-positive", false, "mark the verdict a false positive")
	feedbackCmd.Flags().StringVar(&fbAnalyst, "analyst", "", "analyst submitting the feedback")
	feedbackCmd.Flags().StringVar(&fbComment, "comment", "", "free-form comment")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	if fbEntityID == "" && fbRuleID == "" {
		return fmt.Errorf("at least one of --entity or --rule is required")
	}

	fb := model.Feedback{
		EventID:         fbEventID,
		EntityID:        fbEntityID,
		RuleID:          fbRuleID,
		IsFalsePositive: fbFalsePos,
		Analyst:         fbAnalyst,
		Comment:         fbComment,
		ReceivedAt:      time.Now().UTC(),
	}

	resp, err := postJSON("/api/v1/feedback", fb)
	if err != nil {
		return fmt.Errorf("failed to submit feedback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("feedback rejected (%d): %s", resp.StatusCode, string(body))
	}

	fmt.Println("feedback applied")
	return nil
}
