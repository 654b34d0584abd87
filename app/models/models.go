package models

// All lists every persisted model in migration order
func All() []interface{} {
	return []interface{}{
		&Batch{},
		&Claim{},
		&ClaimPayload{},
		&Dispatch{},
		&DispatchItem{},
		&Attachment{},
		&ApprovedDomainMapping{},
		&MissingDomainMapping{},
		&ValidationIssue{},
	}
}
