package engine

import (
	"strings"
	"testing"

	"github.com/wardsim/wardsim/internal/domain/patient"
)

func TestValidateFluidPrescription(t *testing.T) {
	cfg := testConfig()
	p := testDKAPatient()

	tests := []struct {
		name            string
		durationMinutes float64
		wantAccuracy    Accuracy
		wantScale       float64
	}{
		{"on target", 60, AccuracyCorrect, 1.0},
		{"within tolerance low", 45, AccuracyCorrect, 1.0},
		{"within tolerance high", 75, AccuracyCorrect, 1.0},
		{"a bit fast", 35, AccuracyAcceptable, 0.7},
		{"a bit slow", 100, AccuracyAcceptable, 0.7},
		{"dangerously fast", 15, AccuracyDangerous, 0.0},
		{"far too slow", 180, AccuracyIncorrect, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatePrescription(patient.Prescription{
				Type:            patient.PrescriptionFluids,
				DurationMinutes: tt.durationMinutes,
			}, p, cfg)
			if got.Feedback.Accuracy != tt.wantAccuracy {
				t.Errorf("accuracy = %s, want %s", got.Feedback.Accuracy, tt.wantAccuracy)
			}
			if got.InterventionScale != tt.wantScale {
				t.Errorf("scale = %v, want %v", got.InterventionScale, tt.wantScale)
			}
		})
	}
}

func TestValidateInsulinPrescription(t *testing.T) {
	cfg := testConfig()
	p := testDKAPatient() // 68kg -> 6.8 ml/hr

	tests := []struct {
		name         string
		rateMlPerHr  float64
		wantAccuracy Accuracy
		wantScale    float64
	}{
		{"exact", 6.8, AccuracyCorrect, 1.0},
		{"within rounding", 6.9, AccuracyCorrect, 1.0},
		{"close", 7.5, AccuracyAcceptable, 0.7},
		{"off by band", 8.5, AccuracyIncorrect, 0.3},
		{"way too high", 15, AccuracyDangerous, 0.0},
		{"way too low", 1, AccuracyDangerous, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatePrescription(patient.Prescription{
				Type:        patient.PrescriptionInsulin,
				RateMlPerHr: tt.rateMlPerHr,
			}, p, cfg)
			if got.Feedback.Accuracy != tt.wantAccuracy {
				t.Errorf("accuracy = %s, want %s", got.Feedback.Accuracy, tt.wantAccuracy)
			}
			if got.InterventionScale != tt.wantScale {
				t.Errorf("scale = %v, want %v", got.InterventionScale, tt.wantScale)
			}
		})
	}
}

func TestValidateInsulinPrescriptionCapsAtMaxRate(t *testing.T) {
	cfg := testConfig()
	p := testDKAPatient()
	p.Weight = 180 // 18 ml/hr uncapped, protocol max 15

	got := ValidatePrescription(patient.Prescription{
		Type:        patient.PrescriptionInsulin,
		RateMlPerHr: 15,
	}, p, cfg)
	if got.Feedback.Accuracy != AccuracyCorrect {
		t.Errorf("accuracy = %s, want correct at capped rate", got.Feedback.Accuracy)
	}
}

func TestValidatePotassiumPrescription(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name         string
		lastKnownK   *float64
		mmol         float64
		wantAccuracy Accuracy
		wantScale    float64
	}{
		{"unmeasured", nil, 20, AccuracyIncorrect, 0.3},
		{"normal band exact", fptr(4.2), 20, AccuracyCorrect, 1.0},
		{"normal band adjacent", fptr(4.2), 40, AccuracyAcceptable, 0.5},
		{"low band exact", fptr(3.0), 40, AccuracyCorrect, 1.0},
		{"low band withheld", fptr(3.0), 0, AccuracyDangerous, 0.0},
		{"high band exact", fptr(6.0), 0, AccuracyCorrect, 1.0},
		{"high band full dose", fptr(6.0), 40, AccuracyDangerous, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testDKAPatient()
			p.LastKnownPotassium = tt.lastKnownK
			got := ValidatePrescription(patient.Prescription{
				Type:              patient.PrescriptionPotassium,
				ConcentrationMmol: tt.mmol,
			}, p, cfg)
			if got.Feedback.Accuracy != tt.wantAccuracy {
				t.Errorf("accuracy = %s, want %s", got.Feedback.Accuracy, tt.wantAccuracy)
			}
			if got.InterventionScale != tt.wantScale {
				t.Errorf("scale = %v, want %v", got.InterventionScale, tt.wantScale)
			}
		})
	}
}

func TestValidatePotassiumUnmeasuredMessage(t *testing.T) {
	cfg := testConfig()
	p := testDKAPatient()

	got := ValidatePrescription(patient.Prescription{
		Type:              patient.PrescriptionPotassium,
		ConcentrationMmol: 20,
	}, p, cfg)
	if !strings.Contains(got.Feedback.Feedback, "check serum K+") {
		t.Errorf("feedback %q should direct to measure K+ first", got.Feedback.Feedback)
	}
	if got.Feedback.ExpectedValue != "Check K+ first" {
		t.Errorf("expected value = %q", got.Feedback.ExpectedValue)
	}
}
