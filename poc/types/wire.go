package types

// SignResponse is the signing channel's success body.
type SignResponse struct {
	SignedCert string `json:"signedCert"`
	CACert     string `json:"caCert"`
}

// VoteRequest is the body of a ballot submission. Components are decimal
// text; bare JSON numbers are tolerated.
type VoteRequest struct {
	C1 FlexibleNumber `json:"c1"`
	C2 FlexibleNumber `json:"c2"`
}

// AuthorityVote is the body the tally authority expects.
type AuthorityVote struct {
	Vote AggregateVote `json:"vote"`
}

type AggregateVote struct {
	C1 string `json:"c1"`
	C2 string `json:"c2"`
}
