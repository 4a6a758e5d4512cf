package ledger

import "slices"

// Status is a triage disposition.
type Status string

const (
	// Pending means no reviewer decision yet.
	Pending Status = "pending"

	// Blocked means the reviewer stopped the transaction as fraudulent.
	Blocked Status = "blocked"

	// Verified means the reviewer cleared the transaction.
	Verified Status = "verified"

	// Received means a loan disbursement arrived but is not yet verified.
	Received Status = "received"
)

// Vocabulary is the set of statuses a surface may use and the transitions
// allowed between them. The first status is the seed status.
type Vocabulary struct {
	Name        string
	Statuses    []Status
	Transitions map[Status][]Status
}

// AdminVocabulary is used by the public and admin fraud review surfaces.
var AdminVocabulary = Vocabulary{
	Name:     "fraud",
	Statuses: []Status{Pending, Blocked, Verified},
	Transitions: map[Status][]Status{
		Pending:  {Blocked, Verified},
		Blocked:  {Verified, Pending},
		Verified: {Blocked, Pending},
	},
}

// LoanVocabulary is used by the loan verification surface.
var LoanVocabulary = Vocabulary{
	Name:     "loan",
	Statuses: []Status{Pending, Verified, Received},
	Transitions: map[Status][]Status{
		Pending:  {Verified, Received},
		Received: {Verified, Pending},
		Verified: {Pending},
	},
}

// Initial returns the seed status.
func (v Vocabulary) Initial() Status {
	if len(v.Statuses) == 0 {
		return Pending
	}
	return v.Statuses[0]
}

// Contains reports whether s belongs to the vocabulary.
func (v Vocabulary) Contains(s Status) bool {
	return slices.Contains(v.Statuses, s)
}

// Allows reports whether a transition from -> to is permitted. A nil
// Transitions map allows any change between distinct statuses.
func (v Vocabulary) Allows(from, to Status) bool {
	if from == to || !v.Contains(from) || !v.Contains(to) {
		return false
	}
	if v.Transitions == nil {
		return true
	}
	return slices.Contains(v.Transitions[from], to)
}
