package api

import (
	"math"
	"strconv"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SampleRequest is the body of POST /v1/samples. Unset pointer fields take
// the service defaults.
type SampleRequest struct {
	Strategy       string   `json:"strategy,omitempty"` // llama, legacy, greedy, tokens
	InputIDs       [][]int  `json:"input_ids"`
	StartIDs       []int    `json:"start_ids,omitempty"`
	SequenceLength *int     `json:"sequence_length,omitempty"`
	EOSTokenID     *int     `json:"eos_token_id,omitempty"`
	TopK           *int     `json:"top_k,omitempty"` // 0 disables top-k (llama strategy)
	TopP           *float64 `json:"top_p,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
	Vocab          *int     `json:"vocab,omitempty"`
	Hidden         *int     `json:"hidden,omitempty"`
}

type SampleStats struct {
	Steps           int     `json:"steps"`
	TokensGenerated int     `json:"tokens_generated"`
	ForwardCalls    int     `json:"forward_calls"`
	EarlyStop       bool    `json:"early_stop"`
	DurationMS      float64 `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

type SampleResponse struct {
	ID             string      `json:"id"`
	Object         string      `json:"object"`
	CreatedAt      int64       `json:"created_at"`
	Strategy       string      `json:"strategy"`
	SequenceLength int         `json:"sequence_length"`
	Seed           uint64      `json:"seed"`
	OutputIDs      [][]int     `json:"output_ids"`
	Stats          SampleStats `json:"stats"`
}

type DeleteSampleResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// FilterRequest is the body of POST /v1/filter.
type FilterRequest struct {
	Scores          [][]float64 `json:"scores"`
	TopK            *int        `json:"top_k,omitempty"`
	TopP            *float64    `json:"top_p,omitempty"`
	MinTokensToKeep *int        `json:"min_tokens_to_keep,omitempty"`
}

type FilterResponse struct {
	Object  string    `json:"object"`
	Scores  [][]Score `json:"scores"`
	Indices [][]int   `json:"indices"`
	Keep    []int     `json:"keep"`
}

// Score is a filtered score. Masked entries (-Inf) encode as null since JSON
// has no infinities.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (s *Score) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Score(math.Inf(-1))
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*s = Score(f)
	return nil
}
