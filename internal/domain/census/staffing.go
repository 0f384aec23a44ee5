package census

import (
	"fmt"
	"math"

	"github.com/ehr/census/internal/domain/stay"
)

// StaffingModel computes staffing levels alongside the census. Aggregate
// calls Initialize once before any stay is allocated, AddVariableStaff for
// every (stay, bucket) pair that receives occupied time, AddFixedStaff once
// per bucket after all stays, and Finalize last. Models run in registration
// order at each hook.
type StaffingModel interface {
	Initialize(t *Table) error
	AddVariableStaff(hours float64, t *Table, bucket int, stays []stay.Stay, s int)
	AddFixedStaff(t *Table, bucket int)
	Finalize(t *Table) error
}

// Named is implemented by models that report a display name.
type Named interface {
	Name() string
}

func modelName(m StaffingModel) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

// UnitRatio is the staffing rule for one unit.
type UnitRatio struct {
	PatientsPerStaff float64 `mapstructure:"patients_per_staff" json:"patients_per_staff"`
	FixedStaff       float64 `mapstructure:"fixed_staff" json:"fixed_staff"`
}

// RatioSpec configures one RatioModel.
type RatioSpec struct {
	Name  string               `mapstructure:"name" json:"name"`
	Units map[string]UnitRatio `mapstructure:"units" json:"units"`
}

// RatioModel staffs each unit at a patient-to-staff ratio plus a fixed
// headcount per hour, and rounds the hourly total up to whole staff.
type RatioModel struct {
	name  string
	units map[string]UnitRatio
}

// NewRatioModel validates spec and builds the model.
func NewRatioModel(spec RatioSpec) (*RatioModel, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("staffing model name is required")
	}
	for unit, r := range spec.Units {
		if r.PatientsPerStaff < 0 || r.FixedStaff < 0 {
			return nil, fmt.Errorf("staffing model %s: unit %s has a negative ratio", spec.Name, unit)
		}
	}
	return &RatioModel{name: spec.Name, units: spec.Units}, nil
}

// RatioModelsFromSpecs builds one model per spec, in order.
func RatioModelsFromSpecs(specs []RatioSpec) ([]StaffingModel, error) {
	models := make([]StaffingModel, 0, len(specs))
	for _, spec := range specs {
		m, err := NewRatioModel(spec)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (m *RatioModel) Name() string { return m.name }

func (m *RatioModel) VariableColumn() string { return m.name + " Variable" }
func (m *RatioModel) FixedColumn() string    { return m.name + " Fixed" }
func (m *RatioModel) TotalColumn() string    { return m.name + " Total" }

func (m *RatioModel) Initialize(t *Table) error {
	t.AddColumn(m.VariableColumn())
	t.AddColumn(m.FixedColumn())
	t.AddColumn(m.TotalColumn())
	return nil
}

func (m *RatioModel) AddVariableStaff(hours float64, t *Table, bucket int, stays []stay.Stay, s int) {
	r, ok := m.units[stays[s].Unit]
	if !ok || r.PatientsPerStaff == 0 {
		return
	}
	t.Rows[bucket].Extra[m.VariableColumn()] += hours / r.PatientsPerStaff
}

func (m *RatioModel) AddFixedStaff(t *Table, bucket int) {
	for _, unit := range t.Units {
		if r, ok := m.units[unit]; ok {
			t.Rows[bucket].Extra[m.FixedColumn()] += r.FixedStaff
		}
	}
}

func (m *RatioModel) Finalize(t *Table) error {
	for i := range t.Rows {
		extra := t.Rows[i].Extra
		// Sums within 1e-9 of a whole number are not rounded up.
		need := extra[m.VariableColumn()] + extra[m.FixedColumn()]
		extra[m.TotalColumn()] = math.Max(0, math.Ceil(need-1e-9))
	}
	return nil
}
