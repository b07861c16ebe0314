package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/metrics/export/internaldefs"
)

// Source is satisfied by *authcore.Engine.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders a Source on demand.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current snapshot.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}
	snap := p.source.MetricsSnapshot()

	var b strings.Builder
	for _, def := range internaldefs.Counters {
		writeCounter(&b, def, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.Histograms {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, def, internaldefs.Cumulative(raw))
	}
	writeCounter(&b, internaldefs.AuditDropped, p.source.AuditDropped())
	return b.String()
}

func writeHeader(b *strings.Builder, def internaldefs.Def, kind string) {
	b.WriteString("# HELP " + def.Name + " " + escapeHelp(def.Help) + "\n")
	b.WriteString("# TYPE " + def.Name + " " + kind + "\n")
}

func writeCounter(b *strings.Builder, def internaldefs.Def, v uint64) {
	writeHeader(b, def, "counter")
	b.WriteString(def.Name + " " + strconv.FormatUint(v, 10) + "\n")
}

// writeHistogram emits a zero _sum: the engine keeps bucket counts only.
func writeHistogram(b *strings.Builder, def internaldefs.Def, cumulative [8]uint64) {
	writeHeader(b, def, "histogram")
	for i, le := range internaldefs.Bounds {
		b.WriteString(def.Name + `_bucket{le="` + le + `"} ` + strconv.FormatUint(cumulative[i], 10) + "\n")
	}
	b.WriteString(def.Name + "_count " + strconv.FormatUint(cumulative[7], 10) + "\n")
	b.WriteString(def.Name + "_sum 0\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
