package expr

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestExpr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Expr Suite")
}

var _ = Describe("Evaluate", func() {
	It("evaluates sums", func() {
		Expect(Evaluate("12+15+30")).To(Equal(57.0))
	})

	It("applies standard precedence", func() {
		Expect(Evaluate("1+2*3")).To(Equal(7.0))
		Expect(Evaluate("10-4/2")).To(Equal(8.0))
	})

	It("evaluates parenthesized expressions", func() {
		Expect(Evaluate("2*(3+4)")).To(Equal(14.0))
		Expect(Evaluate("(1+2)*(3+4)")).To(Equal(21.0))
	})

	It("handles decimal numbers", func() {
		Expect(Evaluate("2.5*4")).To(Equal(10.0))
	})

	It("evaluates left-associative chains", func() {
		Expect(Evaluate("100/4/5")).To(Equal(5.0))
		Expect(Evaluate("10-3-2")).To(Equal(5.0))
	})

	It("returns 0 for division by zero", func() {
		Expect(Evaluate("10/0")).To(Equal(0.0))
	})

	It("collapses only the divided sub-term on division by zero", func() {
		Expect(Evaluate("5+10/0")).To(Equal(5.0))
	})

	It("returns 0 for empty input", func() {
		Expect(Evaluate("")).To(Equal(0.0))
		Expect(Evaluate("   ")).To(Equal(0.0))
	})

	It("discards characters outside the arithmetic alphabet", func() {
		Expect(Evaluate("abc")).To(Equal(0.0))
		Expect(Evaluate("12kg + 3kg")).To(Equal(15.0))
	})

	It("returns 0 for malformed expressions", func() {
		Expect(Evaluate("2+")).To(Equal(0.0))
		Expect(Evaluate("(1+2")).To(Equal(0.0))
		Expect(Evaluate("1.2.3")).To(Equal(0.0))
		Expect(Evaluate("()")).To(Equal(0.0))
		Expect(Evaluate("4)")).To(Equal(0.0))
	})

	It("does not support unary minus", func() {
		// A leading '-' is only ever a binary operator, so the whole
		// expression is malformed and evaluates to 0.
		Expect(Evaluate("-5")).To(Equal(0.0))
		Expect(Evaluate("-5+3")).To(Equal(0.0))
		Expect(Evaluate("3*(-2)")).To(Equal(0.0))
	})

	It("ignores surrounding whitespace", func() {
		Expect(Evaluate(" 12 + 15 + 30 ")).To(Equal(57.0))
	})
})
