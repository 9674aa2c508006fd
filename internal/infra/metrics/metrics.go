package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CampaignEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_events_total",
		Help: "Изменения кампаний по типу события",
	}, []string{"event"})
	CampaignLinksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_links_total",
		Help: "Созданные связи кампаний с элементами каталога",
	}, []string{"item_type"})
	ReportTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_transitions_total",
		Help: "Переходы отчётов по типу и новому статусу",
	}, []string{"type", "status"})
	ReportDroppedTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_dropped_transitions_total",
		Help: "Переходы, отброшенные из-за смены статуса или удаления отчёта",
	})
	ReportBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_build_seconds",
		Help:    "Время от постановки отчёта в очередь до финального статуса",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	ReportEventPublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_event_publish_errors_total",
		Help: "Ошибки публикации событий отчётов",
	}, []string{"sink"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 65, 70, 75, 80, 85, 90, 95, 100, 105, 110, 115, 120, 125, 130, 135, 140, 145, 150, 155, 160, 165, 170, 175, 180, 185, 190, 195, 200, 250, 300, 350, 400, 450, 500, 550, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CampaignEventsTotal,
		CampaignLinksTotal,
		ReportTransitionsTotal,
		ReportDroppedTransitions,
		ReportBuildSeconds,
		ReportEventPublishErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncCampaignEvent увеличивает счётчик событий кампаний.
func IncCampaignEvent(event string) {
	CampaignEventsTotal.WithLabelValues(event).Inc()
}

// AddCampaignLinks увеличивает счётчик созданных связей.
func AddCampaignLinks(itemType string, n int) {
	if n <= 0 {
		return
	}
	CampaignLinksTotal.WithLabelValues(itemType).Add(float64(n))
}

// IncReportTransition увеличивает счётчик переходов отчётов.
func IncReportTransition(reportType, status string) {
	ReportTransitionsTotal.WithLabelValues(reportType, status).Inc()
}

// ObserveReportBuild записывает длительность построения отчёта.
func ObserveReportBuild(status string, d time.Duration) {
	ReportBuildSeconds.WithLabelValues(status).Observe(d.Seconds())
}
