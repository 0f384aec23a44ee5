package adt

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const tableTimeLayout = "01/02/2006 03:04 PM"

// FormatEventTable renders an encounter header followed by its events as an
// aligned text table for diagnostics.
func FormatEventTable(enc Encounter, events []Event) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 1, ' ', 0)

	fmt.Fprintln(w, "HAR\tAdmit\tArrival\tDischarge\tDisch Disp\tPt Class\t")
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
		enc.HAR(),
		enc.AdmitDatetime().Format(tableTimeLayout),
		formatOptional(enc.ArrivalDatetime),
		formatOptional(enc.DischargeDatetime),
		enc.DischargeDisposition,
		enc.DischargeClass,
	)
	w.Flush()

	sb.WriteString("\n")
	w = tabwriter.NewWriter(&sb, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Event ID\tEvent Type\tEff Date\tFrom Unit\tTo Unit\tUser\tFrom Class\tTo Class\tLocation\t")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			ev.id, ev.Type, ev.EffDatetime.Format(tableTimeLayout),
			ev.FromUnit, ev.ToUnit, ev.User, ev.FromClass, ev.ToClass, ev.Location)
	}
	w.Flush()
	return sb.String()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "<NA>"
	}
	return t.Format(tableTimeLayout)
}
