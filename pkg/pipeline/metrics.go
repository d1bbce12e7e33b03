// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsPipeline holds Prometheus metrics for the extraction pipeline.
type metricsPipeline struct {
	once sync.Once

	// Programs
	programsScanned prometheus.Counter
	programsFailed  prometheus.Counter

	// Files/Functions
	filesParsed        prometheus.Counter
	filesSkipped       prometheus.Counter
	functionsExtracted prometheus.Counter

	// Classification
	classifyAnalyzed prometheus.Counter
	classifySkipped  prometheus.Counter
	classifyFailed   prometheus.Counter

	// Output
	documentsWritten prometheus.Counter
	batchesWritten   prometheus.Counter

	// Durations
	fetchDuration  prometheus.Histogram
	parseDuration  prometheus.Histogram
	enrichDuration prometheus.Histogram
	writeDuration  prometheus.Histogram
	totalDuration  prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.programsScanned = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_programs_scanned_total", Help: "Programas verificados procesados"})
		m.programsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_programs_failed_total", Help: "Programas excluidos por error de fetch o resolución"})

		m.filesParsed = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_files_parsed_total", Help: "Archivos Rust parseados"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_files_skipped_total", Help: "Archivos omitidos (errores de parseo, tamaño)"})
		m.functionsExtracted = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_functions_extracted_total", Help: "Funciones extraídas"})

		m.classifyAnalyzed = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_classify_analyzed_total", Help: "Funciones clasificadas por el modelo"})
		m.classifySkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_classify_skipped_total", Help: "Funciones con veredicto skip"})
		m.classifyFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_classify_failed_total", Help: "Errores de clasificación tras reintentos"})

		m.documentsWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_documents_written_total", Help: "Documentos NDJSON emitidos"})
		m.batchesWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "solcorpus_batches_written_total", Help: "Archivos batch escritos"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "solcorpus_fetch_seconds", Help: "Duración de fetch de repositorios", Buckets: buckets})
		m.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "solcorpus_parse_seconds", Help: "Duración de parseo y extracción", Buckets: buckets})
		m.enrichDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "solcorpus_enrich_seconds", Help: "Duración de clasificación", Buckets: buckets})
		m.writeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "solcorpus_write_seconds", Help: "Duración de escritura de batches", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "solcorpus_total_seconds", Help: "Duración total de la ejecución", Buckets: buckets})

		prometheus.MustRegister(
			m.programsScanned, m.programsFailed,
			m.filesParsed, m.filesSkipped, m.functionsExtracted,
			m.classifyAnalyzed, m.classifySkipped, m.classifyFailed,
			m.documentsWritten, m.batchesWritten,
			m.fetchDuration, m.parseDuration, m.enrichDuration, m.writeDuration, m.totalDuration,
		)
	})
}
