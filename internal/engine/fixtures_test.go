package engine

import (
	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
)

// fixedRand makes ticks deterministic. 0.5 zeroes the vitals jitter.
type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func fptr(v float64) *float64 { return &v }

func testConfig() *rules.ClinicalRulesConfig {
	return &rules.ClinicalRulesConfig{
		Version: 1,
		DKATriggers: rules.DKATriggers{
			GlucoseThreshold: 11.0,
			KetoneThreshold:  3.0,
			PHThreshold:      7.3,
			BicarbThreshold:  15.0,
		},
		Investigations: []rules.ActionDefinition{
			{Key: "check_glucose", Label: "Capillary Glucose", Category: rules.CategoryInvestigation, DelayMs: 30000},
			{Key: "check_ketones", Label: "Blood Ketones", Category: rules.CategoryInvestigation, DelayMs: 60000,
				Prerequisites: []string{"check_glucose"}},
			{Key: "request_abg", Label: "Arterial Blood Gas", Category: rules.CategoryInvestigation, DelayMs: 120000},
			{Key: "check_potassium", Label: "Serum Potassium", Category: rules.CategoryInvestigation, DelayMs: 180000},
			{Key: "check_lactate", Label: "Lactate", Category: rules.CategoryInvestigation, DelayMs: 180000},
			{Key: "fbc", Label: "Full Blood Count", Category: rules.CategoryInvestigation, DelayMs: 240000},
			{Key: "group_and_save", Label: "Group & Save", Category: rules.CategoryInvestigation, DelayMs: 240000},
			{Key: "maternal_observations", Label: "Maternal Observations", Category: rules.CategoryMonitoring, DelayMs: 15000},
			{Key: "continuous_ctg", Label: "Continuous CTG", Category: rules.CategoryMonitoring, DelayMs: 30000},
			{Key: "escalate_registrar", Label: "Escalate to Registrar", Category: rules.CategoryEscalation, DelayMs: 45000},
			{Key: "escalate_consultant", Label: "Escalate to Consultant", Category: rules.CategoryEscalation, DelayMs: 60000,
				Prerequisites: []string{"escalate_registrar"}},
			{Key: "start_iv_fluids", Label: "IV Fluids", Category: rules.CategoryTreatment, DelayMs: 60000,
				RequiresPrescription: true, PrescriptionType: patient.PrescriptionFluids},
			{Key: "start_insulin", Label: "Insulin Infusion", Category: rules.CategoryTreatment, DelayMs: 60000,
				Prerequisites: []string{"start_iv_fluids"}, RequiresPrescription: true, PrescriptionType: patient.PrescriptionInsulin},
			{Key: "start_potassium_replacement", Label: "Potassium Replacement", Category: rules.CategoryTreatment, DelayMs: 60000,
				RequiresPrescription: true, PrescriptionType: patient.PrescriptionPotassium},
		},
		Treatment: rules.Treatment{
			FluidProtocol: rules.FluidProtocol{
				FirstBagVolume:          1000,
				FirstBagDurationMinutes: 60,
				SBPShockedThreshold:     90,
				SubsequentRate:          250,
			},
			InsulinProtocol: rules.InsulinProtocol{
				StartAfterFluids: true,
				RateUnitsPerKgHr: 0.1,
				MaxRateMlPerHr:   15,
			},
			PotassiumProtocol: rules.PotassiumProtocol{
				CheckBeforeInsulin: true,
				LowThreshold:       3.5,
				HighThreshold:      5.5,
			},
		},
		DeteriorationCurves: map[string]rules.DeteriorationCurve{
			"dka": {Stages: []rules.DeteriorationStage{
				{
					Name:       "concerning",
					DurationMs: 60000,
					Vitals: patient.VitalsSnapshot{
						HR: 110, BPSystolic: 100, BPDiastolic: 60, RR: 24, SpO2: 97, Temp: 37.2, GCS: 15,
						Glucose: fptr(16.5), Ketones: fptr(4.5), PH: fptr(7.25), Bicarb: fptr(13),
					},
					CTGSummary:  "Baseline 150, reduced variability.",
					FetalStatus: patient.FetalReassuring,
				},
				{
					Name:       "critical",
					DurationMs: 60000,
					Vitals: patient.VitalsSnapshot{
						HR: 130, BPSystolic: 85, BPDiastolic: 50, RR: 30, SpO2: 94, Temp: 37.5, GCS: 13,
						Glucose: fptr(22.0), Ketones: fptr(6.2), PH: fptr(7.12), Bicarb: fptr(8),
					},
					CTGSummary:  "Baseline 165, late decelerations.",
					FetalStatus: patient.FetalNonReassuring,
				},
				{
					Name:       "crash_call",
					DurationMs: 60000,
					Vitals: patient.VitalsSnapshot{
						HR: 45, BPSystolic: 60, BPDiastolic: 30, RR: 8, SpO2: 80, Temp: 36.0, GCS: 3,
						Glucose: fptr(28.0), Ketones: fptr(7.5), PH: fptr(6.95), Bicarb: fptr(4),
					},
					CTGSummary:  "No fetal heart activity detected.",
					FetalStatus: patient.FetalIUD,
				},
			}},
			"stable_rfm": {Stages: []rules.DeteriorationStage{
				{
					Name:       "stable",
					DurationMs: 600000,
					Vitals: patient.VitalsSnapshot{
						HR: 82, BPSystolic: 118, BPDiastolic: 72, RR: 16, SpO2: 99, Temp: 36.8, GCS: 15,
					},
					CTGSummary:  "Baseline 140, normal variability, accelerations present.",
					FetalStatus: patient.FetalReassuring,
				},
			}},
		},
		Scoring: rules.Scoring{
			RecognitionTargetMs: 300000,
			EscalationTargetMs:  480000,
			TreatmentTargetMs:   720000,
			RecognitionMaxScore: 25,
			EscalationMaxScore:  20,
			TreatmentMaxScore:   25,
			OutcomeMaxScore:     20,
			ActionsMaxScore:     10,
		},
		Resources: rules.Resources{
			KetometerAvailable: true,
			LabDelayMs:         120000,
		},
	}
}

func testDKAPatient() *patient.Patient {
	return &patient.Patient{
		ID:                 uuid.New(),
		SessionID:          uuid.New(),
		ScenarioPatientKey: "dka_patient",
		Name:               "Sarah Mitchell",
		Age:                29,
		Weight:             68,
		Status:             patient.StatusStable,
		CurrentVitals: patient.VitalsSnapshot{
			HR: 90, BPSystolic: 110, BPDiastolic: 70, RR: 18, SpO2: 98, Temp: 37.0, GCS: 15,
		},
		CTGSummary:        "Baseline 145, normal variability.",
		IsAlive:           true,
		FetalStatus:       patient.FetalReassuring,
		IsDKA:             true,
		DeteriorationType: "dka",
		AvailableActions: []string{
			"check_glucose", "check_ketones", "request_abg", "check_potassium", "check_lactate",
			"fbc", "group_and_save", "maternal_observations", "continuous_ctg",
			"escalate_registrar", "escalate_consultant",
			"start_iv_fluids", "start_insulin", "start_potassium_replacement",
		},
		CompletedActions:    []string{},
		PendingActions:      []patient.PendingAction{},
		InterventionEffects: []patient.InterventionEffect{},
		HasArrived:          true,
	}
}

func testResources() *session.ResourceState {
	return &session.ResourceState{
		KetometerAvailable: true,
		LabsAvailable:      true,
		StaffAvailable:     true,
		LabDelayMultiplier: 1.0,
	}
}
