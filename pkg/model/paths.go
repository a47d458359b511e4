package model

import "fmt"

// Canonical path builders for the health domain. The ownership marker
// binds the embedded address as the authorized writer; the ephemeral
// marker makes expiry mandatory for everything beneath the category.

func PatientRegistrationPath(workerAddr, patientID string) string {
	return fmt.Sprintf("/patients/~%s/registration/%s", workerAddr, patientID)
}

func ConsultationPath(workerAddr string, year int, consultationID string) string {
	return fmt.Sprintf("/consultations/~%s/%d/%s", workerAddr, year, consultationID)
}

func ConsultationEphemeralPath(workerAddr string, year int, consultationID string) string {
	return fmt.Sprintf("/consultations!/~%s/%d/%s", workerAddr, year, consultationID)
}

func ReferralPath(year, month int, referralID string) string {
	return fmt.Sprintf("/referrals/shared/%d/%d/%s", year, month, referralID)
}

func EmergencyPath(facilityAddr, workerAddr, emergencyID string) string {
	return fmt.Sprintf("/emergency!/~%s~%s/%s", facilityAddr, workerAddr, emergencyID)
}

func ConsentPath(workerAddr, patientID string, timestamp int64) string {
	return fmt.Sprintf("/consent/~%s/patient/%s/%d", workerAddr, patientID, timestamp)
}

func SupervisionPath(supervisorAddr, workerAddr, date string) string {
	return fmt.Sprintf("/supervision/~%s/asha/%s/%s", supervisorAddr, workerAddr, date)
}

func AnalyticsPath(scope string, year, month int) string {
	return fmt.Sprintf("/analytics/public/%s/%d/%d", scope, year, month)
}

// AgeGroup buckets an age for anonymized analytics and registration
// payloads.
func AgeGroup(age int) string {
	switch {
	case age < 5:
		return "0-5"
	case age < 15:
		return "5-15"
	case age < 25:
		return "15-25"
	case age < 35:
		return "25-35"
	case age < 45:
		return "35-45"
	case age < 55:
		return "45-55"
	case age < 65:
		return "55-65"
	default:
		return "65+"
	}
}
