package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/zapm/internal/logger"
	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/process"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// formatMemory renders a size given in KB.
func formatMemory(kb uint64) string {
	return humanize.IBytes(kb * 1024)
}

// formatUptime renders seconds as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(secs uint64) string {
	d := secs / 86400
	h := secs % 86400 / 3600
	m := secs % 3600 / 60
	s := secs % 60
	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func pidOrDash(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func uptimeOf(rec process.Record, now time.Time) string {
	if rec.Status != process.StatusRunning || rec.StartTime == nil {
		return "-"
	}
	d := now.Sub(*rec.StartTime)
	if d < 0 {
		d = 0
	}
	return formatUptime(uint64(d / time.Second))
}

func printList(w io.Writer, recs []process.Record, now time.Time) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w, "No processes found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tSTART TIME\tUPTIME\tAUTO RESTART")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			r.Name, r.Status, pidOrDash(r.PID), formatTime(r.StartTime), uptimeOf(r, now), r.AutoRestart)
	}
	_ = tw.Flush()
}

func printStatusTable(w io.Writer, views []manager.View, now time.Time) {
	if len(views) == 0 {
		_, _ = fmt.Fprintln(w, "No processes found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tCPU\tMEMORY\tUPTIME")
	for _, v := range views {
		cpu, mem := "-", "-"
		if v.Metrics != nil {
			cpu = fmt.Sprintf("%.1f%%", v.Metrics.CPUPercent)
			mem = formatMemory(v.Metrics.MemoryKB)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Name, v.Status, pidOrDash(v.PID), cpu, mem, uptimeOf(v.Record, now))
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, v manager.View, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	row := func(k, val string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, val) }
	row("Process", v.Name)
	row("Command", v.Command)
	row("Status", string(v.Status))
	row("PID", pidOrDash(v.PID))
	if v.StartTime != nil && v.Status == process.StatusRunning {
		row("Started at", fmt.Sprintf("%s (%s)", formatTime(v.StartTime), humanize.RelTime(*v.StartTime, now, "ago", "from now")))
		row("Uptime", uptimeOf(v.Record, now))
	}
	if m := v.Metrics; m != nil {
		row("Memory", formatMemory(m.MemoryKB))
		row("CPU", fmt.Sprintf("%.2f%%", m.CPUPercent))
		if m.NumThreads > 0 {
			row("Threads", strconv.Itoa(int(m.NumThreads)))
		}
	} else if v.Status == process.StatusRunning {
		row("Memory", "process not found in system (may have terminated)")
	}
	_ = tw.Flush()
}

func printDetails(w io.Writer, v manager.View, logs logger.Config, now time.Time) {
	printStatus(w, v, now)
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	row := func(k, val string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, val) }
	dir := v.WorkingDir
	if dir == "" {
		dir = "-"
	}
	row("Working directory", dir)
	row("Auto restart", strconv.FormatBool(v.AutoRestart))
	row("Created at", formatTime(&v.CreatedAt))
	row("Updated at", formatTime(&v.UpdatedAt))
	if p := logPath(logs.File.StdoutPath, logs.File.Dir, v.Name+".stdout.log"); p != "" {
		row("Stdout log", p)
	}
	if p := logPath(logs.File.StderrPath, logs.File.Dir, v.Name+".stderr.log"); p != "" {
		row("Stderr log", p)
	}
	_ = tw.Flush()
	if len(v.Env) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Environment variables:")
	keys := make([]string, 0, len(v.Env))
	for k := range v.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s=%s\n", k, v.Env[k])
	}
}

func logPath(explicit, dir, file string) string {
	if explicit != "" {
		return explicit
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, file)
}
