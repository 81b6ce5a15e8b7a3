package nbi

import (
	"html/template"
	"net/http"
	"strconv"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	sim "github.com/signalsfoundry/sewerflow-simulator/internal/sim/state"
)

var dashboardFuncs = template.FuncMap{
	"f1": func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
	"regimeColor": func(regime string) string {
		switch regime {
		case "NORMAL":
			return "#56d364"
		case "WARNING":
			return "#f59e0b"
		case "CRITICAL":
			return "#fb923c"
		default:
			return "#f85149"
		}
	},
	"statusColor": func(status string) string {
		if status == "ALERT" {
			return "#f85149"
		}
		return "#8b949e"
	},
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(dashboardFuncs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="5">
<title>Sewer flow simulator</title>
<style>
body{font-family:monospace;background:#0d1117;color:#c9d1d9;margin:2em}
table{border-collapse:collapse}td,th{padding:2px 10px;text-align:right}
th{color:#8b949e}td:first-child,th:first-child{text-align:left}
</style></head><body>
<h1>Run {{.RunID}}</h1>
<p>status <b>{{.Status}}</b> &middot; next hour {{.NextHour}} of {{.MaxHours}}</p>
{{with .Latest}}
<h2>Hour {{.Hour}}{{if not .Time.IsZero}} &middot; {{.Time.Format "2006-01-02 15:04"}}{{end}}</h2>
<p>rain {{f1 .Rain.Intensity}} mm/h, depth {{f1 .Rain.Depth}}</p>
<p>plant <b style="color:{{regimeColor .Plant.Regime.String}}">{{.Plant.Regime}}</b>
 total in {{f1 .Plant.TotalIn}}, estimated {{f1 .Plant.EstimatedFlow}}, next split {{f1 .Plant.NextSplitFactor}}</p>
<p>overflow {{if .Overflow.Active}}<b style="color:#f85149">ACTIVE</b> diverting {{f1 .Overflow.DivertedFlow}}{{else}}closed{{end}}
{{if gt .Undischarged 0.0}} &middot; undischarged {{f1 .Undischarged}}{{end}}</p>
<table><tr><th>node</th><th>mean</th><th>local</th><th>upstream</th><th>flow</th><th>storage</th><th>status</th></tr>
{{range .Nodes}}<tr><td>{{.ID}}</td><td>{{f1 .MeanFlow}}</td><td>{{f1 .LocalFlow}}</td><td>{{f1 .InflowFromUpstream}}</td>
<td>{{f1 .CurrentFlow}}</td><td>{{f1 .Storage}}</td><td style="color:{{statusColor .Status.String}}">{{.Status}}</td></tr>
{{end}}</table>
{{else}}<p>No hour simulated yet.</p>{{end}}
{{with .Summary}}{{if .Hours}}
<h2>Over {{.Hours}} hours</h2>
<p>overflow active {{.OverflowHours}} h, diverted {{f1 .DivertedVolume}}, undischarged {{f1 .UndischargedVolume}},
 peak plant inflow {{f1 .PeakPlantInflow}} at hour {{.PeakPlantHour}}</p>
<table><tr><th>regime</th><th>hours</th></tr>
{{range $k, $v := .RegimeHours}}<tr><td style="color:{{regimeColor $k}}">{{$k}}</td><td>{{$v}}</td></tr>{{end}}
</table>
{{end}}{{end}}
</body></html>
`))

type dashboardData struct {
	RunID    string
	Status   string
	NextHour int
	MaxHours int
	Latest   *core.HourSnapshot
	Summary  sim.Summary
}

func (h *httpHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	next, horizon := h.sim.Progress()
	data := dashboardData{
		RunID:    h.sim.RunID(),
		Status:   h.sim.Status().String(),
		NextHour: next,
		MaxHours: horizon,
		Summary:  h.sim.Summary(),
	}
	if snap, err := h.sim.Latest(); err == nil {
		data.Latest = snap
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		h.logger(r).Warn(r.Context(), "dashboard render failed", logging.Err(err))
	}
}
