package output

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/poll"
)

const separator = "---------------------------------------------"

// notAvailable fills empty table cells
const notAvailable = "N/A"

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func lastSeen(m edr.Machine) string {
	if !m.LastSeen.IsZero() {
		return m.LastSeen.UTC().Format(time.RFC3339)
	}
	return orNA(m.LastSeenRaw)
}

// MachineList is the JSON shape of an endpoint listing
type MachineList struct {
	Vendor   string        `json:"vendor"`
	Client   string        `json:"client"`
	Count    int           `json:"count"`
	Machines []edr.Machine `json:"machines"`
}

// PrintMachines drains machines into a table (text) or a MachineList (JSON).
// Rows consumed before an iteration error are still printed.
func (f *Formatter) PrintMachines(vendor, client string, machines iter.Seq2[edr.Machine, error]) (int, error) {
	list := MachineList{Vendor: vendor, Client: client, Machines: []edr.Machine{}}
	var tw *tabwriter.Writer
	if f.format == FormatText {
		tw = tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPUTER NAME\tID\tOS\tIP\tLAST SEEN\tHEALTH\tSTATUS")
	}

	var iterErr error
	for m, err := range machines {
		if err != nil {
			iterErr = err
			break
		}
		list.Count++
		if tw == nil {
			list.Machines = append(list.Machines, m)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			orNA(m.Name), m.ID, orNA(m.Platform), orNA(m.IP), lastSeen(m), orNA(m.HealthStatus), orNA(m.OnboardingStatus))
	}

	switch f.format {
	case FormatJSON:
		if iterErr != nil {
			return list.Count, iterErr
		}
		return list.Count, f.printJSON(list)
	case FormatText:
		if list.Count == 0 && iterErr == nil {
			_, err := fmt.Fprintf(f.writer, "No active %s endpoints found for %s\n", vendor, client)
			return 0, err
		}
		if err := tw.Flush(); err != nil {
			return list.Count, err
		}
		return list.Count, iterErr
	default:
		return 0, fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// PrintLibrary outputs the vendor library
func (f *Formatter) PrintLibrary(vendor string, files []edr.LibraryFile) error {
	switch f.format {
	case FormatJSON:
		if files == nil {
			files = []edr.LibraryFile{}
		}
		return f.printJSON(struct {
			Vendor string            `json:"vendor"`
			Files  []edr.LibraryFile `json:"files"`
		}{vendor, files})
	case FormatText:
		if len(files) == 0 {
			_, err := fmt.Fprintf(f.writer, "%s library is empty\n", vendor)
			return err
		}
		tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE NAME\tID\tDESCRIPTION\tTYPE\tOWNED")
		for _, file := range files {
			typ := file.FileType
			if typ == "" {
				typ = string(file.Kind)
			}
			owned := ""
			if file.Owned() {
				owned = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", file.Name, orNA(file.ID), orNA(file.Description), orNA(typ), owned)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// Execution is the JSON shape of a script run report
type Execution struct {
	Machine edr.Machine          `json:"machine"`
	Command string               `json:"command"`
	Result  *edr.ExecutionResult `json:"result"`
	Warning string               `json:"warning,omitempty"`
}

// PrintExecution outputs the decoded command and what the script produced
func (f *Formatter) PrintExecution(exec Execution) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(exec)
	case FormatText:
		var b strings.Builder
		fmt.Fprintf(&b, "Machine: %s (%s)\n", orNA(exec.Machine.Name), exec.Machine.ID)
		if exec.Result != nil && exec.Result.ScriptName != "" {
			fmt.Fprintf(&b, "Script: %s\n", exec.Result.ScriptName)
		}
		fmt.Fprintf(&b, "Command:\n%s\n", strings.TrimRight(exec.Command, "\r\n"))
		if exec.Result != nil {
			fmt.Fprintf(&b, "Exit code: %d\n", exec.Result.ExitCode)
			fmt.Fprintf(&b, "Output:\n%s\n%s\n%s\n", separator, strings.TrimRight(exec.Result.Output, "\r\n"), separator)
			if exec.Result.Errors != "" {
				fmt.Fprintf(&b, "Errors:\n%s\n", strings.TrimRight(exec.Result.Errors, "\r\n"))
			}
		}
		if exec.Warning != "" {
			fmt.Fprintf(&b, "Warning: %s\n", exec.Warning)
		}
		_, err := io.WriteString(f.writer, b.String())
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// PrintCollected outputs where a collected file was extracted to
func (f *Formatter) PrintCollected(remotePath string, res *edr.ExecutionResult) error {
	return f.Print(&Result{
		Success: true,
		Message: fmt.Sprintf("Collected %s", remotePath),
		Data: map[string]interface{}{
			"action_id": res.ActionID,
			"path":      res.Path,
		},
	})
}

// Progress prints one dot per status poll so long waits show activity.
// It writes to its own writer, normally stderr, so JSON output stays clean.
type Progress struct {
	w     io.Writer
	ticks int
}

// NewProgress creates a Progress writing to w. A nil w discards ticks.
func NewProgress(w io.Writer) *Progress {
	if w == nil {
		w = io.Discard
	}
	return &Progress{w: w}
}

// Tick records one poll. Its signature matches the poll loop's OnPoll hook.
func (p *Progress) Tick(_ int, state poll.State) {
	if p.ticks == 0 {
		fmt.Fprint(p.w, "Waiting")
	}
	p.ticks++
	if state.Terminal() {
		fmt.Fprintf(p.w, ". %s\n", state)
		p.ticks = 0
		return
	}
	fmt.Fprint(p.w, ".")
}

// Done terminates an unfinished progress line.
func (p *Progress) Done() {
	if p.ticks > 0 {
		fmt.Fprintln(p.w)
		p.ticks = 0
	}
}
