// Package mapping translates provider code values to approved domain values.
package mapping

import "github.com/ManuelReschke/ClaimAgent/internal/pkg/claims"

// Domain table ids shared with the intake
const (
	DomainGender                         = 1
	DomainActIncidentCode                = 2
	DomainClaimType                      = 3
	DomainClaimSubtype                   = 4
	DomainVisitType                      = 5
	DomainSubscriberRelationship         = 6
	DomainMaritalStatus                  = 7
	DomainCountry                        = 8
	DomainPatientIDType                  = 9
	DomainEncounterStatus                = 10
	DomainCareType                       = 11
	DomainEncounterType                  = 12
	DomainReligion                       = 13
	DomainAdmissionType                  = 14
	DomainTriageCategory                 = 15
	DomainDepartment                     = 16
	DomainDischargeDisposition           = 17
	DomainEncounterClass                 = 18
	DomainEmergencyArrivalCode           = 19
	DomainDispositionCode                = 20
	DomainInvestigationResult            = 21
	DomainPatientOccupation              = 22
	DomainSubmissionReasonCode           = 23
	DomainTreatmentTypeIndicator         = 24
	DomainServiceType                    = 25
	DomainServiceEventType               = 26
	DomainPharmacistSelectionReason      = 27
	DomainPharmacistSubstitute           = 28
	DomainDiagnosisType                  = 29
	DomainExtendedDiagnosisTypeIndicator = 30
	DomainIllnessTypeIndicator           = 31
	DomainConditionOnset                 = 32
	DomainDoctorType                     = 33
	DomainBirthCountry                   = 34
	DomainBirthCity                      = 35
	DomainAdmissionSpecialty             = 36
	DomainDischargeSpeciality            = 37
	DomainEncounterAdmitSource           = 38
	DomainReAdmission                    = 39
	DomainIntendedLengthOfStay           = 40
	DomainDiagnosisOnAdmission           = 41
	DomainPractitionerRoleType           = 42
	DomainClaimCareTeamRole              = 43
)

// ScanDomain names one field whose values must have an approved mapping
type ScanDomain struct {
	DomainTableID int
	DomainName    string
	Section       string
	Field         string
}

// FieldRule enriches one field: the value of Source is looked up in the
// domain table and the result written to Target.
type FieldRule struct {
	Target        string
	DomainTableID int
	DomainName    string
	Source        string
	IntValued     bool
}

// FieldTables groups enrichment rules by bundle section
type FieldTables struct {
	Header    []FieldRule
	Service   []FieldRule
	Diagnosis []FieldRule
	Doctor    []FieldRule
}

// DefaultScanDomains returns the fields scanned for missing mappings
func DefaultScanDomains() []ScanDomain {
	h, s, d, doc := claims.SectionHeader, claims.SectionServiceDetails, claims.SectionDiagnosisDetails, claims.SectionDoctors
	return []ScanDomain{
		{DomainGender, "PatientGender", h, "patientGender"},
		{DomainGender, "DoctorGender", h, "doctorGender"},
		{DomainActIncidentCode, "ActIncidentCode", h, "actIncidentCode"},
		{DomainClaimType, "ClaimType", h, "claimType"},
		{DomainVisitType, "VisitType", h, "visitType"},
		{DomainSubscriberRelationship, "SubscriberRelationship", h, "subscriberRelationship"},
		{DomainMaritalStatus, "MaritalStatus", h, "maritalStatus"},
		{DomainCountry, "PatientCountry", h, "nationality"},
		{DomainCountry, "DoctorCountry", h, "Nationality_Code"},
		{DomainPatientIDType, "PatientIDType", h, "patientIdType"},
		{DomainEncounterStatus, "EncounterStatus", h, "encounterStatus"},
		{DomainCareType, "CareType", h, "careTypeID"},
		{DomainEncounterType, "EncounterType", h, "enconuterTypeID"},
		{DomainReligion, "Religion", h, "patientReligion"},
		{DomainAdmissionType, "AdmissionType", h, "admissionTypeID"},
		{DomainTriageCategory, "TriageCategory", h, "triageCategoryTypeID"},
		{DomainDepartment, "Department", h, "BenHead"},
		{DomainDischargeDisposition, "DischargeDisposition", h, "DischargeDepositionsTypeID"},
		{DomainEmergencyArrivalCode, "EmergencyArrivalCode", h, "emergencyArrivalCode"},
		{DomainDispositionCode, "DispositionCode", h, "EmergencyDepositionTypeID"},
		{DomainInvestigationResult, "InvestigationResult", h, "investigationResult"},
		{DomainPatientOccupation, "PatientOccupation", h, "patientOccupation"},
		{DomainSubmissionReasonCode, "SubmissionReasonCode", s, "submissionReasonCode"},
		{DomainTreatmentTypeIndicator, "TreatmentTypeIndicator", s, "treatmentTypeIndicator"},
		{DomainServiceType, "ServiceType", s, "serviceType"},
		{DomainServiceEventType, "ServiceEventType", s, "serviceEventType"},
		{DomainPharmacistSelectionReason, "Pharmacist Selection Reason", s, "pharmacistSelectionReason"},
		{DomainPharmacistSubstitute, "Pharmacist Substitute", s, "pharmacistSubstitute"},
		{DomainDiagnosisType, "DiagnosisType", d, "diagnosisTypeID"},
		{DomainIllnessTypeIndicator, "IllnessTypeIndicator", d, "illnessTypeIndicator"},
		{DomainConditionOnset, "ConditionOnset", d, "onsetConditionTypeID"},
		{DomainReligion, "DoctorReligion", doc, "religion_Code"},
		{DomainDoctorType, "DoctorType", doc, "DoctorType_Code"},
	}
}

// DefaultFieldTables returns the enrichment rules applied at send time
func DefaultFieldTables() FieldTables {
	return FieldTables{
		Header: []FieldRule{
			{"fK_ClaimType_ID", DomainClaimType, "ClaimType", "claimType", false},
			{"fK_ClaimSubtype_ID", DomainClaimSubtype, "ClaimSubtype", "claimSubtype", false},
			{"fK_GenderId", DomainGender, "PatientGender", "patientGender", false},
			{"fK_PatientIDType_ID", DomainPatientIDType, "PatientIDType", "patientIdType", false},
			{"fK_MaritalStatus_ID", DomainMaritalStatus, "MaritalStatus", "maritalStatus", false},
			{"fK_Dept_ID", DomainDepartment, "Department", "BenHead", false},
			{"fK_Nationality_ID", DomainCountry, "Country", "nationality", false},
			{"fK_BirthCountry_ID", DomainBirthCountry, "BirthCountry", "birthCountry", false},
			{"fK_BirthCity_ID", DomainBirthCity, "BirthCity", "birthCity", false},
			{"fK_Religion_ID", DomainReligion, "Religion", "patientReligion", false},
			{"fK_AdmissionSpecialty_ID", DomainAdmissionSpecialty, "AdmissionSpecialty", "admissionSpecialty", false},
			{"fK_DischargeSpeciality_ID", DomainDischargeSpeciality, "DischargeSpeciality", "dischargeSpecialty", false},
			{"fK_DischargeDisposition_ID", DomainDischargeDisposition, "DischargeDisposition", "DischargeDepositionsTypeID", false},
			{"fK_EncounterAdmitSource_ID", DomainEncounterAdmitSource, "EncounterAdmitSource", "encounterAdmitSource", false},
			{"fK_EncounterClass_ID", DomainEncounterClass, "EncounterClass", "enconuterTypeId", false},
			{"fK_EncounterStatus_ID", DomainEncounterStatus, "EncounterStatus", "encounterStatus", false},
			{"fK_ReAdmission_ID", DomainReAdmission, "ReAdmission", "reAdmission", false},
			{"fK_EmergencyArrivalCode_ID", DomainEmergencyArrivalCode, "EmergencyArrivalCode", "emergencyArrivalCode", false},
			{"fK_ServiceEventType_ID", DomainServiceEventType, "ServiceEventType", "serviceEventType", false},
			{"fK_IntendedLengthOfStay_ID", DomainIntendedLengthOfStay, "IntendedLengthOfStay", "lengthOfStay", false},
			{"fK_TriageCategory_ID", DomainTriageCategory, "TriageCategory", "triageCategoryTypeID", false},
			{"fK_DispositionCode_ID", DomainDispositionCode, "DispositionCode", "EmergencyDepositionTypeID", false},
			{"fK_InvestigationResult_ID", DomainInvestigationResult, "InvestigationResult", "investigationResult", true},
			{"fK_VisitType_ID", DomainVisitType, "VisitType", "visitType", false},
			{"fK_PatientOccupation_Id", DomainPatientOccupation, "PatientOccupation", "patientOccupation", false},
			{"fK_SubscriberRelationship_ID", DomainSubscriberRelationship, "SubscriberRelationship", "subscriberRelationship", false},
		},
		Service: []FieldRule{
			{"fK_ServiceType_ID", DomainServiceType, "ServiceType", "serviceType", false},
			{"fK_PharmacistSubstitute_ID", DomainPharmacistSubstitute, "Pharmacist Substitute", "pharmacistSubstitute", false},
			{"fK_PharmacistSelectionReason_ID", DomainPharmacistSelectionReason, "Pharmacist Selection Reason", "pharmacistSelectionReason", false},
		},
		Diagnosis: []FieldRule{
			{"fK_DiagnosisOnAdmission_ID", DomainDiagnosisOnAdmission, "DiagnosisOnAdmission", "diagnosisOnAdmission", false},
			{"fK_DiagnosisType_ID", DomainDiagnosisType, "DiagnosisType", "diagnosisTypeID", true},
			{"fK_ConditionOnset_ID", DomainConditionOnset, "ConditionOnset", "onsetConditionTypeID", true},
		},
		Doctor: []FieldRule{
			{"fK_Gender", DomainGender, "DoctorGender", "doctorGender", false},
			{"fK_Nationality", DomainCountry, "Country", "doctorNationality", false},
			{"fK_Religion", DomainReligion, "DoctorReligion", "religion_Code", false},
			{"fK_PractitionerRoleType", DomainPractitionerRoleType, "PractitionerRoleType", "practitionerRoleType", false},
			{"fK_ClaimCareTeamRole", DomainClaimCareTeamRole, "ClaimCareTeamRole", "claimCareTeamRole", false},
		},
	}
}
