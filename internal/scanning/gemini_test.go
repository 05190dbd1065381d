package scanning

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("geminiFunction", func() {
	var decl *genai.FunctionDeclaration

	BeforeEach(func() {
		decl = geminiFunction(FrontSchema)
	})

	It("uses the schema name", func() {
		Expect(decl.Name).To(Equal("parse_front_taxi_receipt"))
	})

	It("requires every field", func() {
		Expect(decl.Parameters.Type).To(Equal(genai.TypeObject))
		Expect(decl.Parameters.Required).To(Equal([]string{"paid_at", "fare"}))
	})

	It("maps field types", func() {
		Expect(decl.Parameters.Properties["paid_at"].Type).To(Equal(genai.TypeString))
		Expect(decl.Parameters.Properties["fare"].Type).To(Equal(genai.TypeInteger))
	})
})

var _ = Describe("functionCallFields", func() {
	var (
		resp   *genai.GenerateContentResponse
		fields Fields
		err    error
	)

	respond := func(parts ...genai.Part) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		}
	}

	JustBeforeEach(func() {
		fields, err = functionCallFields(resp, FrontSchema)
	})

	When("the model calls the function after some text", func() {
		BeforeEach(func() {
			resp = respond(
				genai.Text("영수증을 확인했습니다"),
				genai.FunctionCall{
					Name: "parse_front_taxi_receipt",
					Args: map[string]any{"paid_at": "2025-03-14 08:15", "fare": float64(15300)},
				},
			)
		})

		It("decodes the arguments", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fields).To(Equal(Fields{"paid_at": "2025-03-14 08:15", "fare": int64(15300)}))
		})
	})

	When("the model calls a different function first", func() {
		BeforeEach(func() {
			resp = respond(
				genai.FunctionCall{Name: "parse_back_taxi_receipt", Args: map[string]any{"name": "최홍영"}},
				genai.FunctionCall{
					Name: "parse_front_taxi_receipt",
					Args: map[string]any{"paid_at": "2025-03-14 08:15", "fare": "15,300원"},
				},
			)
		})

		It("uses the matching call", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fields).To(HaveKeyWithValue("fare", "15,300원"))
		})
	})

	When("the model only answers in text", func() {
		BeforeEach(func() {
			resp = respond(genai.Text("잘 모르겠습니다"))
		})

		It("returns ErrNoFunctionCall", func() {
			Expect(errors.Is(err, ErrNoFunctionCall)).To(BeTrue())
		})
	})

	When("a required argument is missing", func() {
		BeforeEach(func() {
			resp = respond(genai.FunctionCall{
				Name: "parse_front_taxi_receipt",
				Args: map[string]any{"paid_at": "2025-03-14 08:15"},
			})
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing function arguments")))
			Expect(err).To(MatchError(ContainSubstring(`missing required field "fare"`)))
		})
	})

	When("there are no candidates", func() {
		BeforeEach(func() {
			resp = &genai.GenerateContentResponse{}
		})

		It("returns an error", func() {
			Expect(err).To(MatchError("no response from gemini"))
			Expect(fields).To(BeNil())
		})
	})

	When("the candidate has no content", func() {
		BeforeEach(func() {
			resp = &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}
		})

		It("returns an error", func() {
			Expect(err).To(MatchError("no response from gemini"))
		})
	})
})

var _ = Describe("NewGemini", func() {
	It("requires an API key", func() {
		_, err := NewGemini(context.Background(), "", "")
		Expect(errors.Is(err, ErrMissingAPIKey)).To(BeTrue())
	})
})
