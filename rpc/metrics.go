// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestGauge = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpc_total",
		Help: "Number of served RPC calls",
	})
	failedReqeustGauge = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpc_failure",
		Help: "Number of RPC calls answered with an error",
	})
	rpcServingTimer = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "rpc_duration_seconds",
		Help:       "Time spent serving RPC calls",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"method", "success"})
	openConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpc_open_connections",
		Help: "Number of streaming RPC connections currently being served",
	}, []string{"transport"})
)

// PreAllocateRPCMetricLabels pre-allocates labels for all rpc methods inside API List
func PreAllocateRPCMetricLabels(apiList []API) {
	for _, method := range getRPCMethodNames(apiList) {
		rpcServingTimer.WithLabelValues(method, successLabel(true))
		rpcServingTimer.WithLabelValues(method, successLabel(false))
	}
}

func getRPCMethodNames(apiList []API) (methods []string) {
	for _, api := range apiList {
		apiType := reflect.TypeOf(api.Service)

		for i := 0; i < apiType.NumMethod(); i++ {
			method := apiType.Method(i)
			rpcMethod := fmt.Sprintf("%s_%s", api.Namespace, pascalToCamel(method.Name))
			methods = append(methods, rpcMethod)
		}
	}

	return
}

func pascalToCamel(input string) string {
	if input == "" || strings.ToLower(input[0:1]) == input[0:1] {
		return input
	}

	return strings.ToLower(input[0:1]) + input[1:]
}

func successLabel(valid bool) string {
	if valid {
		return "success"
	}
	return "failure"
}

func observeRPC(method string, valid bool, took time.Duration) {
	rpcRequestGauge.Inc()
	if !valid {
		failedReqeustGauge.Inc()
	}
	rpcServingTimer.WithLabelValues(method, successLabel(valid)).Observe(took.Seconds())
}
