// Package metrics はゲートウェイのPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// middleware.AdmissionRecorder、middleware.VerificationRecorder、auth.LoginMetricsを満たす。
type Collector struct {
	reg prometheus.Registerer

	admissions    *prometheus.CounterVec
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resumebuilder_admission_decisions_total",
			Help: "レート制限の判定結果別のリクエスト数",
		}, []string{"decision"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resumebuilder_logins_total",
			Help: "ログインコールバックの結果別の件数",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resumebuilder_token_verifications_total",
			Help: "Bearerトークン検証の結果別の件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.admissions,
		c.logins,
		c.verifications,
	)

	return c
}

// RecordAdmission はレート制限の判定結果を記録する。
func (c *Collector) RecordAdmission(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	c.admissions.WithLabelValues(decision).Inc()
}

// RecordLogin はログインの結果を記録する。
// outcomeは "success" またはエラーの種類名。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTokenVerification はトークン検証の結果を記録する。
func (c *Collector) RecordTokenVerification(result string) {
	c.verifications.WithLabelValues(result).Inc()
}

// WatchAdmissionWindows はレート制限が保持しているクライアント数をゲージとして公開する。
// 値はスクレイプのたびにlenFuncから取得する。
func (c *Collector) WatchAdmissionWindows(lenFunc func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "resumebuilder_admission_windows",
		Help: "レート制限が保持しているクライアントキーの数",
	}, func() float64 {
		return float64(lenFunc())
	}))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
