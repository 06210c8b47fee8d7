package ledger

// MaxFieldLength bounds propertyId, descriptionHash and workDetailsHash, in
// bytes of their UTF-8 encoding.
const MaxFieldLength = 256

// RepairRequest is the canonical record held by the contract.
type RepairRequest struct {
	ID              uint64  `json:"id"`
	Initiator       Address `json:"initiator"`
	Landlord        Address `json:"landlord"`
	PropertyID      string  `json:"property_id"`
	DescriptionHash string  `json:"description_hash"`
	WorkDetailsHash string  `json:"work_details_hash"`
	Status          Status  `json:"status"`
	CreatedAt       uint64  `json:"created_at"`
	UpdatedAt       uint64  `json:"updated_at"`
}

func validField(s string) bool {
	return len(s) > 0 && len(s) <= MaxFieldLength
}
