package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// WriteYAML encodes v, typically a Summary, []Summary or Comparison.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// WriteText prints a compliance table per run.
func WriteText(w io.Writer, summaries ...Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\tcycles=%d\tcompliance=%.2f%%\n", s.Label(), s.RunID, s.Cycles, s.Compliance*100)
		fmt.Fprintln(tw, "  stage\tdeadline\tcycles\tmet\tcompliance\tmean\tp99\tmax\tlock wait\toverruns")
		for _, st := range s.Stages {
			fmt.Fprintf(tw, "  %s\t%v\t%d\t%d\t%.2f%%\t%v\t%v\t%v\t%v\t%d\n",
				st.Name, st.Deadline, st.Cycles, st.Met, st.Compliance*100,
				st.Total.Mean, st.Total.P99, st.Total.Max, st.LockWait.Mean, st.Overruns)
		}
		d := s.Diagnostics
		fmt.Fprintf(tw, "  anomalies=%d emergencies=%d transmit_misses=%d feedback_misses=%d dropped=%d/%d timeouts=%d feedback=%d/%d\n\n",
			d.Anomalies, d.Emergencies, d.TransmitMisses, d.FeedbackMisses,
			d.DroppedReadings, d.DroppedFeedback, d.ReceiveTimeouts, d.FeedbackSent, d.FeedbackObserved)
	}
	return tw.Flush()
}

// WriteComparison prints a comparison table.
func WriteComparison(w io.Writer, c Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "A=%s\tB=%s\n", c.A, c.B)
	fmt.Fprintln(tw, "stage\tcompliance A\tcompliance B\tdelta\tmean delta\tp99 delta\tlock wait delta")
	for _, s := range c.Stages {
		fmt.Fprintf(tw, "%s\t%.2f%%\t%.2f%%\t%+.2f%%\t%v\t%v\t%v\n",
			s.Name, s.ComplianceA*100, s.ComplianceB*100, s.ComplianceDelta*100,
			s.MeanDelta, s.P99Delta, s.LockWaitDelta)
	}
	if c.Better != "" {
		fmt.Fprintf(tw, "better: %s\n", c.Better)
	}
	return tw.Flush()
}
