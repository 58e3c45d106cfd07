package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	fx "github.com/robotalks/crsflink/pkg/framework"
	"github.com/robotalks/crsflink/pkg/status"
)

// Target is the bridge the shell is attached to.
type Target = status.Controller

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	Commands    *Commands
	Shell       *ishell.Shell
}

const (
	shellKey = "$shell"
	prompt   = "crsf > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	commands = []*ishell.Cmd{
		&StatusCmd,
		&ChannelsCmd,
		&StatsCmd,
		&PeersCmd,
		&ModelCmd,
	}
)

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(id string, target Target) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Commands:    &Commands{ID: id, Target: target, OutputJSON: outputJSON},
		Shell:       ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(prompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Run implements framework.Runnable. Leaving the shell returns nil.
func (s *Shell) Run(ctx context.Context) error {
	if !s.Interactive {
		<-ctx.Done()
		return ctx.Err()
	}
	return fx.RunWithContextCancel(ctx, s.Shell.Close, func() error {
		s.Shell.Run()
		return nil
	})
}

// Process runs a single command line.
func (s *Shell) Process(args ...string) error {
	return s.Shell.Process(args...)
}

func commandFunc(fn func(cmds *Commands, w io.Writer, args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		var w bytes.Buffer
		if err := fn(ShellFrom(c).Commands, &w, c.Args); err != nil {
			c.Err(err)
			return
		}
		c.Print(w.String())
	}
}

var (
	// StatusCmd prints the link status.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "link status",
		Func:    commandFunc((*Commands).Status),
	}

	// ChannelsCmd prints the RC channels.
	ChannelsCmd = ishell.Cmd{
		Name:    "channels",
		Aliases: []string{"ch"},
		Help:    "RC channels in microseconds",
		Func:    commandFunc((*Commands).Channels),
	}

	// StatsCmd prints the counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "frame and send counters",
		Func: commandFunc((*Commands).Stats),
	}

	// PeersCmd lists the peers.
	PeersCmd = ishell.Cmd{
		Name:    "peers",
		Aliases: []string{"p"},
		Help:    "model peers",
		Func:    commandFunc((*Commands).Peers),
	}

	// ModelCmd prints or selects the model.
	ModelCmd = ishell.Cmd{
		Name:    "model",
		Aliases: []string{"m"},
		Help:    "[ID]",
		Func:    commandFunc((*Commands).Model),
	}
)

// Commands implements the shell commands on a Target.
type Commands struct {
	ID         string
	Target     Target
	OutputJSON bool
}

func (c *Commands) printJSON(w io.Writer, v interface{}) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// Status prints the link status.
func (c *Commands) Status(w io.Writer, args []string) error {
	st := status.NewLinkStatus(c.ID, c.Target.Snapshot())
	if c.OutputJSON {
		return c.printJSON(w, st)
	}
	fmt.Fprintf(w, "state:   %s\n", st.State)
	fmt.Fprintf(w, "model:   %d %s\n", st.Model, st.Peer)
	fmt.Fprintf(w, "handset: connected=%v baud=%d\n", st.Connected, st.Baud)
	fmt.Fprintf(w, "phase:   error=%dus offset=%dus locked=%v\n", st.PhaseErrorUs, st.HandsetOffsetUs, st.PhaseLocked)
	fmt.Fprintf(w, "quality: %d%%\n", st.LinkQuality)
	return nil
}

// Channels prints the RC channels.
func (c *Commands) Channels(w io.Writer, args []string) error {
	ev := status.NewChannelsEvent(c.ID, c.Target.Snapshot())
	if c.OutputJSON {
		return c.printJSON(w, ev)
	}
	for n, v := range ev.Channels {
		fmt.Fprintf(w, "CH%-2d %4d\n", n+1, v)
	}
	return nil
}

// Stats prints the counters.
func (c *Commands) Stats(w io.Writer, args []string) error {
	snap := c.Target.Snapshot()
	if c.OutputJSON {
		return c.printJSON(w, map[string]interface{}{
			"handset": snap.Handset,
			"phase":   snap.Phase,
			"sends":   snap.Sends,
		})
	}
	h := snap.Handset
	fmt.Fprintf(w, "frames:  good=%d bad=%d baud-switches=%d dropped=%d\n",
		h.TotalGood, h.TotalBad, h.BaudSwitches, h.QueueDropped)
	if !h.LastRC.IsZero() {
		fmt.Fprintf(w, "last rc: %s ago\n", snap.Time.Sub(h.LastRC).Round(time.Millisecond))
	}
	s := snap.Sends
	fmt.Fprintf(w, "sends:   sent=%d delivered=%d failed=%d rejected=%d no-peer=%d skipped=%d\n",
		s.Sent, s.Delivered, s.Failed, s.Rejected, s.NoPeer, s.Skipped)
	fmt.Fprintf(w, "phase:   resets=%d step=%s\n", snap.Phase.Resets, snap.Phase.Step)
	return nil
}

// Peers lists the peers.
func (c *Commands) Peers(w io.Writer, args []string) error {
	peers := c.Target.Peers().Peers()
	if c.OutputJSON {
		list := make([]status.PeerInfo, len(peers))
		for n, p := range peers {
			list[n] = status.PeerInfo{Model: n, Peer: string(p)}
		}
		return c.printJSON(w, list)
	}
	model := int(c.Target.Snapshot().Model)
	for n, p := range peers {
		mark := " "
		if n == model {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %2d %s\n", mark, n, p)
	}
	return nil
}

// Model prints the selected model, or selects one.
func (c *Commands) Model(w io.Writer, args []string) error {
	if len(args) == 0 {
		snap := c.Target.Snapshot()
		fmt.Fprintf(w, "%d %s\n", snap.Model, snap.Peer)
		return nil
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid model id: %s", args[0])
	}
	peer, ok := c.Target.Peers().Lookup(int(id))
	if !ok {
		return fmt.Errorf("no peer for model %d", id)
	}
	c.Target.SetModel(uint8(id))
	fmt.Fprintf(w, "%d %s\n", id, peer)
	return nil
}
