package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sas_scans_total",
	Help: "Inbound badge scans by pipeline outcome.",
}, []string{"outcome"})
