// Package publish pushes engine output onto NATS subjects so downstream
// consumers (APIs, displays, archivers in other processes) receive vehicle
// and prediction updates without polling.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pulse.opentransit.org/internal/logging"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// Publisher sends JSON messages to NATS. Subjects are
// <prefix>.vehicles.<vehicleID> and <prefix>.predictions.<routeID>.<stopID>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	logger = logger.With(slog.String("component", "nats_publisher"))
	nc, err := nats.Connect(url,
		nats.Name("pulse-predictor"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.LogError(logger, "nats disconnected", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logging.LogOperation(logger, "nats_reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.LogOperation(logger, "nats_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.LogError(p.logger, "draining nats connection failed", err)
		}
		p.nc.Close()
	}
}

// VehicleMessage is the wire form of a vehicle snapshot.
type VehicleMessage struct {
	VehicleID    string    `json:"vehicleId"`
	Predictable  bool      `json:"predictable"`
	SchedBased   bool      `json:"schedBased,omitempty"`
	BlockID      string    `json:"blockId,omitempty"`
	TripID       string    `json:"tripId,omitempty"`
	RouteID      string    `json:"routeId,omitempty"`
	AvlTime      time.Time `json:"avlTime"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	SchedAdhSecs *int      `json:"schedAdhSecs,omitempty"`
}

// PredictionMessage is the wire form of one stop prediction.
type PredictionMessage struct {
	VehicleID  string    `json:"vehicleId"`
	RouteID    string    `json:"routeId"`
	StopID     string    `json:"stopId"`
	TripID     string    `json:"tripId,omitempty"`
	Time       time.Time `json:"time"`
	IsArrival  bool      `json:"isArrival"`
	SchedBased bool      `json:"schedBased,omitempty"`
}

func vehicleMessage(snap vehicle.Snapshot) VehicleMessage {
	msg := VehicleMessage{
		VehicleID:   snap.VehicleID,
		Predictable: snap.Predictable,
		SchedBased:  snap.ForSchedBasedPreds,
		BlockID:     snap.BlockID,
		TripID:      snap.TripID,
		RouteID:     snap.RouteID,
		AvlTime:     snap.AvlTime,
		Lat:         snap.Lat,
		Lon:         snap.Lon,
	}
	if snap.SchedAdherenceValid {
		secs := int(snap.SchedAdherence / time.Second)
		msg.SchedAdhSecs = &secs
	}
	return msg
}

func predictionMessage(pred model.Prediction) PredictionMessage {
	return PredictionMessage{
		VehicleID:  pred.VehicleID,
		RouteID:    pred.RouteID,
		StopID:     pred.StopID,
		TripID:     pred.TripID,
		Time:       pred.Time,
		IsArrival:  pred.IsArrival,
		SchedBased: pred.SchedBasedPred,
	}
}

// PublishVehicle sends the current snapshot of one vehicle.
func (p *Publisher) PublishVehicle(snap vehicle.Snapshot) {
	subject := fmt.Sprintf("%s.vehicles.%s", p.prefix, subjectToken(snap.VehicleID))
	p.publish(subject, vehicleMessage(snap))
}

// PublishPredictions sends a batch of predictions, one message per stop.
func (p *Publisher) PublishPredictions(preds []model.Prediction) {
	for _, pred := range preds {
		subject := fmt.Sprintf("%s.predictions.%s.%s",
			p.prefix, subjectToken(pred.RouteID), subjectToken(pred.StopID))
		p.publish(subject, predictionMessage(pred))
	}
}

func (p *Publisher) publish(subject string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.LogError(p.logger, "marshaling nats message failed", err,
			slog.String("subject", subject))
		return
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		logging.LogError(p.logger, "publishing nats message failed", err,
			slog.String("subject", subject))
	}
}

// subjectToken makes an ID safe to embed in a NATS subject. Tokens cannot
// contain spaces, '.', '>', or '*'.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	return repl.Replace(s)
}

// PublishingCache decorates a vehicle cache so every snapshot update is also
// pushed to NATS. A nil publisher degrades to the inner cache alone.
type PublishingCache struct {
	Inner     vehicle.Cache
	Publisher *Publisher
}

func (c *PublishingCache) UpdateVehicle(snap vehicle.Snapshot) {
	c.Inner.UpdateVehicle(snap)
	if c.Publisher != nil {
		c.Publisher.PublishVehicle(snap)
	}
}

func (c *PublishingCache) Remove(vehicleID string) {
	c.Inner.Remove(vehicleID)
}

func (c *PublishingCache) VehiclesByBlockID(blockID string) []string {
	return c.Inner.VehiclesByBlockID(blockID)
}

func (c *PublishingCache) VehiclesIncludingSynthetic() []vehicle.Snapshot {
	return c.Inner.VehiclesIncludingSynthetic()
}
