package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State identifies where the orchestrator is in its run loop.
type State string

const (
	StateIdle                State = "idle"
	StateLoadingCheckpoint   State = "loading_checkpoint"
	StateFetchingPage        State = "fetching_page"
	StateProcessingBatch     State = "processing_batch"
	StateAdvancingCheckpoint State = "advancing_checkpoint"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

var syncStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "syncpipe_sync_state",
	Help: "Current orchestrator state (0=idle 1=loading_checkpoint 2=fetching_page 3=processing_batch 4=advancing_checkpoint 5=done 6=failed)",
})

var stateValues = map[State]float64{
	StateIdle:                0,
	StateLoadingCheckpoint:   1,
	StateFetchingPage:        2,
	StateProcessingBatch:     3,
	StateAdvancingCheckpoint: 4,
	StateDone:                5,
	StateFailed:              6,
}
