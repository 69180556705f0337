package service

import (
	"fmt"
	"strings"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/port"
)

// DefaultMaxTransactionsInAttributes caps the transaction list published in
// sensor attributes.
const DefaultMaxTransactionsInAttributes = 1000

const (
	SensorTransactions = "transactions_last_7_days"
	transactionsName   = "Transactions (last 7 days)"
	transactionsIcon   = "mdi:cash-multiple"
	spentIcon          = "mdi:cash-minus"
)

// Sensors derives the published sensors from the committed snapshot.
type Sensors struct {
	reader          port.SnapshotReader
	currency        string
	maxTransactions int
}

// NewSensors creates the sensor set for reader. currency names the sum currency.
func NewSensors(reader port.SnapshotReader, currency string, maxTransactions int) *Sensors {
	if currency == "" {
		currency = DefaultSumCurrency
	}
	if maxTransactions <= 0 {
		maxTransactions = DefaultMaxTransactionsInAttributes
	}
	return &Sensors{reader: reader, currency: currency, maxTransactions: maxTransactions}
}

// MaxTransactions is the cap applied to published transaction lists.
func (s *Sensors) MaxTransactions() int {
	return s.maxTransactions
}

// SpentSensorID is the id of the expense sensor, e.g. spent_pln_last_7_days.
func (s *Sensors) SpentSensorID() string {
	return "spent_" + strings.ToLower(s.currency) + "_last_7_days"
}

// List returns every sensor in a stable order.
func (s *Sensors) List() []domain.Sensor {
	snap := s.reader.Snapshot()
	return []domain.Sensor{s.transactions(snap), s.spent(snap)}
}

// Get returns one sensor by id.
func (s *Sensors) Get(id string) (*domain.Sensor, error) {
	snap := s.reader.Snapshot()
	var sensor domain.Sensor
	switch id {
	case SensorTransactions:
		sensor = s.transactions(snap)
	case s.SpentSensorID():
		sensor = s.spent(snap)
	default:
		return nil, &domain.ErrNotFound{Resource: "sensor", ID: id}
	}
	return &sensor, nil
}

func (s *Sensors) transactions(snap *domain.Snapshot) domain.Sensor {
	sensor := domain.Sensor{
		ID:        SensorTransactions,
		Name:      transactionsName,
		Icon:      transactionsIcon,
		Available: snap != nil,
	}
	if snap == nil {
		return sensor
	}
	view := snap.View(s.maxTransactions)
	sensor.State = float64(snap.TotalTransactions)
	sensor.Attributes = &view
	return sensor
}

func (s *Sensors) spent(snap *domain.Snapshot) domain.Sensor {
	precision := 2
	sensor := domain.Sensor{
		ID:               s.SpentSensorID(),
		Name:             fmt.Sprintf("Spent in %s (last 7 days)", s.currency),
		Icon:             spentIcon,
		Unit:             s.currency,
		DeviceClass:      "monetary",
		DisplayPrecision: &precision,
		Available:        snap != nil,
	}
	if snap != nil {
		sensor.State = snap.ExpenseSum7d
	}
	return sensor
}
