package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"can-entry-core/entry"
	"can-entry-core/mapping"
	"can-entry-core/utils"
)

var errUsage = errors.New("usage")

type command struct {
	name    string
	help    string
	minArgs int
	run     func(args []string) ([]string, error)
	sub     []command
}

// console exposes the handler's operations as shell commands.
type console struct {
	ctx context.Context
	h   *entry.Handler
}

func newConsole(ctx context.Context, h *entry.Handler) *console {
	return &console{ctx: ctx, h: h}
}

func (c *console) commands() []command {
	return []command{
		{name: "status", help: "status", run: c.status},
		{name: "autosend", help: "autosend on|off", minArgs: 1, run: c.autoSend},
		{name: "send", help: "send <id> [data]", minArgs: 1, run: c.send},
		{name: "record", help: "recording control", sub: []command{
			{name: "on", help: "record on", run: c.recordSet(true, false)},
			{name: "off", help: "record off", run: c.recordSet(false, false)},
			{name: "pause", help: "record pause", run: c.recordSet(true, true)},
			{name: "resume", help: "record resume", run: c.recordSet(true, false)},
			{name: "level", help: "record level <n>", minArgs: 1, run: c.recordLevel},
			{name: "clear", help: "record clear", run: c.recordClear},
			{name: "save", help: "record save <path>", minArgs: 1, run: c.recordSave},
			{name: "show", help: "record show <id> [rx]", minArgs: 1, run: c.recordShow},
		}},
		{name: "tx", help: "TX list", sub: []command{
			{name: "list", help: "tx list", run: c.txList},
			{name: "add", help: "tx add <id> <period ms> [data]", minArgs: 2, run: c.txAdd},
			{name: "copy", help: "tx copy <index>", minArgs: 1, run: c.txCopy},
			{name: "rmlast", help: "tx rmlast", run: c.txRemoveLast},
			{name: "id", help: "tx id <index> <id>", minArgs: 2, run: c.txID},
			{name: "data", help: "tx data <index> [data]", minArgs: 1, run: c.txData},
			{name: "period", help: "tx period <index> <ms>", minArgs: 2, run: c.txPeriod},
			{name: "comment", help: "tx comment <index> [text]", minArgs: 1, run: c.txComment},
			{name: "send", help: "tx send <index> on|off", minArgs: 2, run: c.txSend},
			{name: "single", help: "tx single <index> on|off", minArgs: 2, run: c.txSingle},
			{name: "level", help: "tx level <index> <n>", minArgs: 2, run: c.txLevel},
			{name: "search", help: "tx search <text>", minArgs: 1, run: c.txSearch},
		}},
		{name: "rx", help: "RX observations", sub: []command{
			{name: "list", help: "rx list", run: c.rxList},
			{name: "comment", help: "rx comment <id> [text]", minArgs: 1, run: c.rxComment},
			{name: "level", help: "rx level <id> <n>", minArgs: 2, run: c.rxLevel},
		}},
		{name: "map", help: "bitfield mapping", sub: []command{
			{name: "frames", help: "map frames", run: c.mapFrames},
			{name: "fields", help: "map fields <id>", minArgs: 1, run: c.mapFields},
			{name: "show", help: "map show <id> [rx]", minArgs: 1, run: c.mapShow},
			{name: "set", help: "map set <id> <name=value>...", minArgs: 2, run: c.mapSet},
			{name: "add", help: "map add <id> <name> <type> <offset> <size>", minArgs: 5, run: c.mapAdd},
			{name: "rm", help: "map rm <id> <offset>", minArgs: 2, run: c.mapRemove},
		}},
		{name: "isotp", help: "ISO-TP link", sub: []command{
			{name: "send", help: "isotp send <data>", minArgs: 1, run: c.isoTpSend},
			{name: "reset", help: "isotp reset", run: c.isoTpReset},
		}},
		{name: "load", help: "load tx|rx|map <path>", minArgs: 2, run: c.load},
		{name: "save", help: "save tx|rx|map <path>", minArgs: 2, run: c.save},
	}
}

// exec runs one command line given as words.
func (c *console) exec(args []string) ([]string, error) {
	cmds := c.commands()
	for len(args) > 0 {
		cmd, found := find(cmds, args[0])
		if !found {
			return nil, fmt.Errorf("unknown command %q", args[0])
		}
		args = args[1:]
		if cmd.run == nil {
			if len(args) == 0 {
				return nil, fmt.Errorf("%w: %s", errUsage, cmd.help)
			}
			cmds = cmd.sub
			continue
		}
		if len(args) < cmd.minArgs {
			return nil, fmt.Errorf("%w: %s", errUsage, cmd.help)
		}
		return cmd.run(args)
	}
	return nil, errUsage
}

func find(cmds []command, name string) (command, bool) {
	for _, cmd := range cmds {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

// Shell builds the interactive ishell front end.
func (c *console) Shell() *ishell.Shell {
	shell := ishell.New()
	shell.Println("CAN entry shell")
	for _, cmd := range c.commands() {
		shell.AddCmd(c.ishellCmd(cmd))
	}
	return shell
}

func (c *console) ishellCmd(cmd command) *ishell.Cmd {
	ic := &ishell.Cmd{Name: cmd.name, Help: cmd.help}
	for _, sub := range cmd.sub {
		ic.AddCmd(c.ishellCmd(sub))
	}
	if cmd.run != nil {
		run, help, minArgs := cmd.run, cmd.help, cmd.minArgs
		ic.Func = func(ctx *ishell.Context) {
			if len(ctx.Args) < minArgs {
				ctx.Println("usage:", help)
				return
			}
			lines, err := run(ctx.Args)
			for _, l := range lines {
				ctx.Println(l)
			}
			if err != nil {
				ctx.Println("error:", err)
			}
		}
	} else {
		subs := cmd.sub
		ic.Func = func(ctx *ishell.Context) {
			for _, sub := range subs {
				ctx.Println(sub.help)
			}
		}
	}
	return ic
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

func parseLevel(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return uint8(n), nil
}

func parseData(args []string) ([]byte, error) {
	return utils.ParseHexBytes(strings.Join(args, " "))
}

func ok(format string, args ...any) ([]string, error) {
	return []string{fmt.Sprintf(format, args...)}, nil
}

func (c *console) status([]string) ([]string, error) {
	return []string{
		fmt.Sprintf("auto send:  %v", c.h.IsAutoSend()),
		fmt.Sprintf("recording:  %v (paused %v, level %d, %d entries)",
			c.h.IsRecording(), c.h.IsRecordingPaused(), c.h.RecordingLogLevel(), c.h.LogEntryCount()),
		fmt.Sprintf("tx entries: %d, frames sent %d", len(c.h.TxEntries()), c.h.TxFrameCount()),
		fmt.Sprintf("rx ids:     %d, frames received %d", len(c.h.RxEntries()), c.h.RxFrameCount()),
		fmt.Sprintf("mapped:     %d frames", len(c.h.MappedFrames())),
	}, nil
}

func (c *console) autoSend(args []string) ([]string, error) {
	on, err := parseOnOff(args[0])
	if err != nil {
		return nil, err
	}
	c.h.ToggleAutoSend(on)
	return ok("auto send %v", on)
}

func (c *console) send(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	data, err := parseData(args[1:])
	if err != nil {
		return nil, err
	}
	if err := c.h.SendDataFrame(c.ctx, id, data); err != nil {
		return nil, err
	}
	return ok("sent %X [%d]", id, len(data))
}

func (c *console) recordSet(enable, pause bool) func([]string) ([]string, error) {
	return func([]string) ([]string, error) {
		c.h.ToggleRecording(enable, pause)
		return ok("recording %v, paused %v", enable, pause)
	}
}

func (c *console) recordLevel(args []string) ([]string, error) {
	lvl, err := parseLevel(args[0])
	if err != nil {
		return nil, err
	}
	c.h.SetRecordingLogLevel(lvl)
	return ok("recording level %d", lvl)
}

func (c *console) recordClear([]string) ([]string, error) {
	c.h.ClearRecording()
	return ok("recording cleared")
}

func (c *console) recordSave(args []string) ([]string, error) {
	if err := c.h.SaveRecordingToFile(args[0]); err != nil {
		return nil, err
	}
	return ok("saved %d entries to %s", c.h.LogEntryCount(), args[0])
}

func (c *console) recordShow(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	isRx := len(args) > 1 && strings.EqualFold(args[1], "rx")
	return c.h.GenerateLogForFrame(id, isRx), nil
}

func formatTx(i int, e entry.TxEntry) string {
	return fmt.Sprintf("%3d %8X %6dms send=%-5v single=%-5v count=%-6d lvl=%d [%d] %-23s %s",
		i, e.ID, e.Period.Milliseconds(), e.Send, e.SingleShot, e.Count, e.LogLevel,
		len(e.Data), utils.FormatHexBytes(e.Data), e.Comment)
}

func (c *console) txList([]string) ([]string, error) {
	entries := c.h.TxEntries()
	out := make([]string, 0, len(entries))
	for i, e := range entries {
		out = append(out, formatTx(i, e))
	}
	return out, nil
}

func (c *console) txAdd(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	ms, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid period %q", args[1])
	}
	data, err := parseData(args[2:])
	if err != nil {
		return nil, err
	}
	e := entry.TxEntry{ID: id, Data: data, Period: time.Duration(ms) * time.Millisecond}
	if err := c.h.Add(e); err != nil {
		return nil, err
	}
	return ok("added %X", id)
}

func (c *console) txCopy(args []string) ([]string, error) {
	i, err := parseIndex(args[0])
	if err != nil {
		return nil, err
	}
	if err := c.h.Copy(i); err != nil {
		return nil, err
	}
	return ok("copied entry %d", i)
}

func (c *console) txRemoveLast([]string) ([]string, error) {
	if !c.h.RemoveLast() {
		return ok("list is empty")
	}
	return ok("removed last entry")
}

// editIndexed parses the leading index and applies fn to the rest of the arguments.
func editIndexed(args []string, fn func(i int, rest []string) error) ([]string, error) {
	i, err := parseIndex(args[0])
	if err != nil {
		return nil, err
	}
	if err := fn(i, args[1:]); err != nil {
		return nil, err
	}
	return ok("entry %d updated", i)
}

func (c *console) txID(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		id, err := utils.ParseFrameID(rest[0])
		if err != nil {
			return err
		}
		return c.h.SetID(i, id)
	})
}

func (c *console) txData(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		data, err := parseData(rest)
		if err != nil {
			return err
		}
		return c.h.SetTxData(i, data)
	})
}

func (c *console) txPeriod(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		ms, err := strconv.ParseUint(rest[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid period %q", rest[0])
		}
		return c.h.SetTxPeriod(i, time.Duration(ms)*time.Millisecond)
	})
}

func (c *console) txComment(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		return c.h.SetTxComment(i, strings.Join(rest, " "))
	})
}

func (c *console) txSend(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		on, err := parseOnOff(rest[0])
		if err != nil {
			return err
		}
		return c.h.SetTxSend(i, on)
	})
}

func (c *console) txSingle(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		on, err := parseOnOff(rest[0])
		if err != nil {
			return err
		}
		return c.h.SetTxSingleShot(i, on)
	})
}

func (c *console) txLevel(args []string) ([]string, error) {
	return editIndexed(args, func(i int, rest []string) error {
		lvl, err := parseLevel(rest[0])
		if err != nil {
			return err
		}
		return c.h.SetTxLogLevel(i, lvl)
	})
}

func (c *console) txSearch(args []string) ([]string, error) {
	entries := c.h.TxEntries()
	var out []string
	for _, i := range c.h.SearchTx(strings.Join(args, " ")) {
		if i < len(entries) {
			out = append(out, formatTx(i, entries[i]))
		}
	}
	return out, nil
}

func (c *console) rxList([]string) ([]string, error) {
	var out []string
	for _, rx := range c.h.RxEntries() {
		out = append(out, fmt.Sprintf("%8X count=%-6d period=%-8s lvl=%d [%d] %-23s %s",
			rx.ID, rx.Count, rx.Period.Round(time.Millisecond), rx.LogLevel,
			len(rx.Data), utils.FormatHexBytes(rx.Data), rx.Comment))
		for _, s := range rx.Signals {
			out = append(out, formatSignal(s))
		}
	}
	return out, nil
}

func (c *console) rxComment(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	c.h.SetRxComment(id, strings.Join(args[1:], " "))
	return ok("comment set on %X", id)
}

func (c *console) rxLevel(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	lvl, err := parseLevel(args[1])
	if err != nil {
		return nil, err
	}
	c.h.SetRxLogLevel(id, lvl)
	return ok("log level %d on %X", lvl, id)
}

func formatSignal(s mapping.Signal) string {
	mark := ""
	if !s.InRange {
		mark = " (out of range)"
	}
	return fmt.Sprintf("    %-20s %-9s %s%s", s.Name, s.Type, s.Value, mark)
}

func (c *console) mapFrames([]string) ([]string, error) {
	var out []string
	for _, id := range c.h.MappedFrames() {
		out = append(out, fmt.Sprintf("%8X %d fields", id, len(c.h.MappedFields(id))))
	}
	return out, nil
}

func (c *console) mapFields(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range c.h.MappedFields(id) {
		out = append(out, fmt.Sprintf("%-20s %-9s bits %2d..%-2d [%s, %s]",
			f.Name, f.Type, f.Offset, int(f.Offset)+int(f.Size)-1,
			f.Type.FormatBound(f.Min), f.Type.FormatBound(f.Max)))
	}
	return out, nil
}

func (c *console) mapShow(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	isRx := len(args) > 1 && strings.EqualFold(args[1], "rx")
	sigs, err := c.h.MapForFrame(id, isRx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, formatSignal(s))
	}
	return out, nil
}

func (c *console) mapSet(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		name, value, found := strings.Cut(kv, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", kv)
		}
		values[name] = value
	}
	if err := c.h.ApplyFieldValues(id, values); err != nil {
		return nil, err
	}
	return ok("%d fields written to %X", len(values), id)
}

func (c *console) mapAdd(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	typ := mapping.ParseFieldType(args[2])
	off, err := strconv.ParseUint(args[3], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q", args[3])
	}
	size, err := strconv.ParseUint(args[4], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid size %q", args[4])
	}
	if err := c.h.AddMappingField(id, mapping.NewBitfield(args[1], typ, uint8(off), uint8(size))); err != nil {
		return nil, err
	}
	return ok("field %s added to %X", args[1], id)
}

func (c *console) mapRemove(args []string) ([]string, error) {
	id, err := utils.ParseFrameID(args[0])
	if err != nil {
		return nil, err
	}
	off, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q", args[1])
	}
	if !c.h.RemoveMappingField(id, uint8(off)) {
		return ok("no field at offset %d of %X", off, id)
	}
	return ok("field at offset %d of %X removed", off, id)
}

func (c *console) isoTpSend(args []string) ([]string, error) {
	data, err := parseData(args)
	if err != nil {
		return nil, err
	}
	if err := c.h.SendIsoTpFrame(data); err != nil {
		return nil, err
	}
	return ok("iso-tp transmission of %d bytes started", len(data))
}

func (c *console) isoTpReset([]string) ([]string, error) {
	c.h.ResetIsoTp()
	return ok("iso-tp link reset")
}

func (c *console) load(args []string) ([]string, error) {
	var err error
	switch args[0] {
	case "tx":
		err = c.h.LoadTxList(args[1])
	case "rx":
		err = c.h.LoadRxList(args[1])
	case "map":
		err = c.h.LoadMapping(args[1])
	default:
		return nil, fmt.Errorf("%w: load tx|rx|map <path>", errUsage)
	}
	if err != nil {
		return nil, err
	}
	return ok("loaded %s", args[1])
}

func (c *console) save(args []string) ([]string, error) {
	var err error
	switch args[0] {
	case "tx":
		err = c.h.SaveTxList(args[1])
	case "rx":
		err = c.h.SaveRxList(args[1])
	case "map":
		err = c.h.SaveMapping(args[1])
	default:
		return nil, fmt.Errorf("%w: save tx|rx|map <path>", errUsage)
	}
	if err != nil {
		return nil, err
	}
	return ok("saved %s", args[1])
}
