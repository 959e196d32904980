package searchparam

// DefaultSearchParameters returns the built-in R4 search parameters: the
// Resource-level parameters plus a subset of the resource-specific ones for
// the common clinical types.
func DefaultSearchParameters() []*SearchParameter {
	return []*SearchParameter{
		// Resource-level parameters (apply to every type)
		def("Resource-id", "_id", "token", "Resource.id", "Resource"),
		def("Resource-lastUpdated", "_lastUpdated", "date", "Resource.meta.lastUpdated", "Resource"),
		def("Resource-tag", "_tag", "token", "Resource.meta.tag", "Resource"),
		def("Resource-security", "_security", "token", "Resource.meta.security", "Resource"),
		def("Resource-profile", "_profile", "uri", "Resource.meta.profile", "Resource"),
		def("Resource-source", "_source", "uri", "Resource.meta.source", "Resource"),

		// Patient
		def("Patient-active", "active", "token", "Patient.active", "Patient"),
		def("Patient-name", "name", "string", "Patient.name", "Patient"),
		def("Patient-family", "family", "string", "Patient.name.family", "Patient"),
		def("Patient-given", "given", "string", "Patient.name.given", "Patient"),
		def("Patient-birthdate", "birthdate", "date", "Patient.birthDate", "Patient"),
		def("Patient-gender", "gender", "token", "Patient.gender", "Patient"),
		def("Patient-identifier", "identifier", "token", "Patient.identifier", "Patient"),
		def("Patient-address", "address", "string", "Patient.address", "Patient"),
		def("Patient-address-city", "address-city", "string", "Patient.address.city", "Patient"),
		def("Patient-deceased", "death-date", "date", "(Patient.deceased as dateTime)", "Patient"),
		def("Patient-general-practitioner", "general-practitioner", "reference", "Patient.generalPractitioner", "Patient"),
		def("Patient-organization", "organization", "reference", "Patient.managingOrganization", "Patient"),

		// Practitioner and Organization
		def("Practitioner-name", "name", "string", "Practitioner.name", "Practitioner"),
		def("Practitioner-identifier", "identifier", "token", "Practitioner.identifier", "Practitioner"),
		def("Organization-name", "name", "string", "Organization.name", "Organization"),
		def("Organization-identifier", "identifier", "token", "Organization.identifier", "Organization"),
		def("Organization-partof", "partof", "reference", "Organization.partOf", "Organization"),

		// Observation
		def("Observation-code", "code", "token", "Observation.code", "Observation"),
		def("Observation-category", "category", "token", "Observation.category", "Observation"),
		def("Observation-status", "status", "token", "Observation.status", "Observation"),
		def("Observation-subject", "subject", "reference", "Observation.subject", "Observation"),
		def("Observation-patient", "patient", "reference", "Observation.subject.where(resolve() is Patient)", "Observation"),
		def("Observation-encounter", "encounter", "reference", "Observation.encounter", "Observation"),
		def("Observation-date", "date", "date", "Observation.effective", "Observation"),
		def("Observation-value-quantity", "value-quantity", "quantity", "(Observation.value as Quantity) | (Observation.value as SampledData)", "Observation"),
		def("Observation-value-concept", "value-concept", "token", "(Observation.value as CodeableConcept)", "Observation"),
		def("Observation-value-string", "value-string", "string", "(Observation.value as string) | (Observation.value as CodeableConcept).text", "Observation"),
		def("Observation-value-date", "value-date", "date", "(Observation.value as dateTime) | (Observation.value as Period)", "Observation"),
		def("Observation-component-code", "component-code", "token", "Observation.component.code", "Observation"),
		def("Observation-component-value-quantity", "component-value-quantity", "quantity", "(Observation.component.value as Quantity)", "Observation"),
		def("Observation-code-value-quantity", "code-value-quantity", "composite", "Observation", "Observation"),

		// Encounter
		def("Encounter-status", "status", "token", "Encounter.status", "Encounter"),
		def("Encounter-class", "class", "token", "Encounter.class", "Encounter"),
		def("Encounter-subject", "subject", "reference", "Encounter.subject", "Encounter"),
		def("Encounter-patient", "patient", "reference", "Encounter.subject.where(resolve() is Patient)", "Encounter"),
		def("Encounter-date", "date", "date", "Encounter.period", "Encounter"),
		def("Encounter-length", "length", "quantity", "Encounter.length", "Encounter"),

		// Condition
		def("Condition-clinical-status", "clinical-status", "token", "Condition.clinicalStatus", "Condition"),
		def("Condition-subject", "subject", "reference", "Condition.subject", "Condition"),
		def("Condition-patient", "patient", "reference", "Condition.subject.where(resolve() is Patient)", "Condition"),
		def("Condition-onset-date", "onset-date", "date", "Condition.onset.as(dateTime) | Condition.onset.as(Period)", "Condition"),
		def("Condition-abatement-age", "abatement-age", "quantity", "Condition.abatement.as(Age) | Condition.abatement.as(Range)", "Condition"),

		// Shared across types, split per base
		def("clinical-code", "code", "token",
			"AllergyIntolerance.code | AllergyIntolerance.reaction.substance | Condition.code | Procedure.code",
			"AllergyIntolerance", "Condition", "Procedure"),
		def("clinical-date", "date", "date",
			"AllergyIntolerance.recordedDate | Procedure.performed",
			"AllergyIntolerance", "Procedure"),

		// MedicationRequest
		def("MedicationRequest-status", "status", "token", "MedicationRequest.status", "MedicationRequest"),
		def("MedicationRequest-subject", "subject", "reference", "MedicationRequest.subject", "MedicationRequest"),
		def("MedicationRequest-authoredon", "authoredon", "date", "MedicationRequest.authoredOn", "MedicationRequest"),
		def("MedicationRequest-code", "code", "token", "(MedicationRequest.medication as CodeableConcept)", "MedicationRequest"),
		def("MedicationRequest-medication", "medication", "reference", "(MedicationRequest.medication as Reference)", "MedicationRequest"),

		// Immunization
		def("Immunization-date", "date", "date", "Immunization.occurrence", "Immunization"),
		def("Immunization-vaccine-code", "vaccine-code", "token", "Immunization.vaccineCode", "Immunization"),
		def("Immunization-lot-number", "lot-number", "string", "Immunization.lotNumber", "Immunization"),

		// Location
		def("Location-name", "name", "string", "Location.name | Location.alias", "Location"),
		def("Location-address", "address", "string", "Location.address", "Location"),
		def("Location-near", "near", "special", "Location.position", "Location"),

		// Financial
		def("Invoice-totalgross", "totalgross", "quantity", "Invoice.totalGross", "Invoice"),
		def("Invoice-totalnet", "totalnet", "quantity", "Invoice.totalNet", "Invoice"),
		def("RiskAssessment-probability", "probability", "number", "RiskAssessment.prediction.probability", "RiskAssessment"),

		// Conformance resources
		def("ValueSet-url", "url", "uri", "ValueSet.url", "ValueSet"),
		def("StructureDefinition-url", "url", "uri", "StructureDefinition.url", "StructureDefinition"),
		def("Questionnaire-url", "url", "uri", "Questionnaire.url", "Questionnaire"),
	}
}

func def(id, code, typ, expression string, base ...string) *SearchParameter {
	return &SearchParameter{
		ResourceType: "SearchParameter",
		ID:           id,
		URL:          "http://hl7.org/fhir/SearchParameter/" + id,
		Name:         code,
		Status:       "active",
		Code:         code,
		Base:         base,
		Type:         typ,
		Expression:   expression,
	}
}
