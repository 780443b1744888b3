package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector 同时实现 prometheus.Collector，/metrics 直接导出聚合值
// 同名指标需使用相同的 label 维度
var _ prometheus.Collector = (*Collector)(nil)

// Describe 不声明固定描述（unchecked collector）
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect 将计数器、仪表、直方图（以 summary 的 count/sum 形式）导出
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key, v := range c.counters {
		s := c.series[key]
		desc, values := describe(s)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, values...)
	}
	for key, v := range c.gauges {
		s := c.series[key]
		desc, values := describe(s)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, values...)
	}
	for key, h := range c.histograms {
		s := c.series[key]
		desc, values := describe(s)
		ch <- prometheus.MustNewConstSummary(desc, uint64(h.Count), h.Sum, nil, values...)
	}
}

func describe(s series) (*prometheus.Desc, []string) {
	names := make([]string, 0, len(s.labels))
	for k := range s.labels {
		names = append(names, k)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, k := range names {
		values[i] = s.labels[k]
	}
	return prometheus.NewDesc(s.name, s.name, names, nil), values
}
