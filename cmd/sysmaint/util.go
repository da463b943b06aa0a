package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/loykin/sysmaint/internal/elevation"
	"github.com/loykin/sysmaint/internal/maintenance"
	"github.com/loykin/sysmaint/internal/privilege"
	"github.com/loykin/sysmaint/internal/purge"
	"github.com/loykin/sysmaint/internal/reclaim"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func toMB(b uint64) float64 {
	return math.Round(float64(b)/reclaim.MiB*10) / 10
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type memoryView struct {
	TotalMB     float64 `json:"total_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

func newMemoryView(m *reclaim.MemoryStatus) *memoryView {
	if m == nil {
		return nil
	}
	return &memoryView{
		TotalMB:     toMB(m.Total),
		AvailableMB: toMB(m.Available),
		UsedPercent: math.Round(m.UsedPercent*10) / 10,
	}
}

type trimView struct {
	PID     int32   `json:"pid"`
	Name    string  `json:"name"`
	FreedMB float64 `json:"freed_mb"`
	Outcome string  `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

func newTrimView(r reclaim.TrimResult) trimView {
	return trimView{PID: r.PID, Name: r.Name, FreedMB: toMB(r.Freed), Outcome: string(r.Outcome), Error: errString(r.Err)}
}

type trimSummaryView struct {
	Total    int        `json:"total"`
	Eligible int        `json:"eligible"`
	Trimmed  int        `json:"trimmed"`
	Skipped  int        `json:"skipped"`
	Failed   int        `json:"failed"`
	FreedMB  float64    `json:"freed_mb"`
	Results  []trimView `json:"results,omitempty"`
}

type privilegeView struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

func newPrivilegeViews(reqs []privilege.Request) []privilegeView {
	out := make([]privilegeView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, privilegeView{Name: r.Name, Enabled: r.Enabled, Error: errString(r.Err)})
	}
	return out
}

type purgeView struct {
	Label   string `json:"label"`
	Command uint32 `json:"command"`
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type stageView struct {
	Name     string  `json:"name"`
	Command  string  `json:"command"`
	ExitCode int     `json:"exit_code"`
	Outcome  string  `json:"outcome"`
	Seconds  float64 `json:"seconds"`
	Error    string  `json:"error,omitempty"`
	Output   string  `json:"output,omitempty"`
}

// passView is the JSON printed after a maintenance pass.
type passView struct {
	RunID        string           `json:"run_id"`
	Operations   string           `json:"operations"`
	MemoryBefore *memoryView      `json:"memory_before,omitempty"`
	MemoryAfter  *memoryView      `json:"memory_after,omitempty"`
	ImprovedMB   *float64         `json:"improved_mb,omitempty"`
	Trim         *trimSummaryView `json:"trim,omitempty"`
	Privileges   []privilegeView  `json:"privileges,omitempty"`
	Degraded     bool             `json:"degraded,omitempty"`
	Purge        []purgeView      `json:"purge,omitempty"`
	Self         *trimView        `json:"self,omitempty"`
	Stages       []stageView      `json:"stages,omitempty"`
	Refused      []string         `json:"refused,omitempty"`
	Interrupted  bool             `json:"interrupted,omitempty"`
	Failures     int              `json:"failures"`
	Seconds      float64          `json:"seconds"`
}

func newPassView(rep maintenance.Report) passView {
	v := passView{
		RunID:        rep.RunID,
		Operations:   rep.Plan.Operations().String(),
		MemoryBefore: newMemoryView(rep.MemoryBefore),
		MemoryAfter:  newMemoryView(rep.MemoryAfter),
		Degraded:     rep.Degraded,
		Interrupted:  rep.Interrupted,
		Failures:     rep.Failures(),
		Seconds:      math.Round(rep.Duration.Seconds()*100) / 100,
	}
	if rep.MemoryBefore != nil && rep.MemoryAfter != nil {
		d := math.Round((rep.MemoryAfter.AvailableMB()-rep.MemoryBefore.AvailableMB())*10) / 10
		v.ImprovedMB = &d
	}
	if s := rep.Trim; s != nil {
		tv := &trimSummaryView{
			Total:    s.Total,
			Eligible: s.Eligible,
			Trimmed:  s.Trimmed,
			Skipped:  s.Skipped,
			Failed:   s.Failed,
			FreedMB:  toMB(s.FreedBytes),
		}
		for _, r := range s.Results {
			tv.Results = append(tv.Results, newTrimView(r))
		}
		v.Trim = tv
	}
	if len(rep.Privileges) > 0 {
		v.Privileges = newPrivilegeViews(rep.Privileges)
	}
	for _, r := range rep.Purge {
		v.Purge = append(v.Purge, purgeView{
			Label:   r.Label,
			Command: uint32(r.Command),
			Status:  purge.Hex(r.Status),
			Outcome: string(r.Outcome),
			Reason:  r.Reason,
		})
	}
	if rep.Self != nil {
		sv := newTrimView(*rep.Self)
		v.Self = &sv
	}
	for _, s := range rep.Stages {
		v.Stages = append(v.Stages, stageView{
			Name:     s.Name,
			Command:  s.CommandLine(),
			ExitCode: s.ExitCode,
			Outcome:  s.Outcome(),
			Seconds:  math.Round(s.Duration.Seconds()*100) / 100,
			Error:    errString(s.Err),
			Output:   s.Output,
		})
	}
	for _, op := range rep.Refused {
		v.Refused = append(v.Refused, op.String())
	}
	return v
}

type privilegeReport struct {
	Administrator bool            `json:"administrator"`
	AnyEnabled    bool            `json:"any_enabled"`
	Privileges    []privilegeView `json:"privileges"`
}

func newPrivilegeReport(reqs []privilege.Request, st elevation.State) privilegeReport {
	return privilegeReport{
		Administrator: st.IsAdministrator,
		AnyEnabled:    privilege.AnyEnabled(reqs),
		Privileges:    newPrivilegeViews(reqs),
	}
}

type elevationReport struct {
	Administrator bool   `json:"administrator"`
	Relaunched    bool   `json:"relaunched"`
	GatedOps      string `json:"gated_operations"`
	PassNeedsUAC  bool   `json:"full_pass_needs_elevation"`
}

func newElevationReport(st elevation.State) elevationReport {
	full := maintenance.Plan{Memory: true, Purge: true, Health: true}.Operations()
	return elevationReport{
		Administrator: st.IsAdministrator,
		Relaunched:    st.WasRelaunchedForElevation,
		GatedOps:      full.String(),
		PassNeedsUAC:  elevation.RequiresElevation(full) && !st.IsAdministrator,
	}
}
