package validation_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/core/common/validation"
)

type sampleRow struct {
	ID    string `json:"id" validate:"required,max=5"`
	Phone string `json:"phone" validate:"omitempty,len=4,numeric"`
}

type sampleDTO struct {
	Name string      `json:"name" validate:"required"`
	Rows []sampleRow `json:"rows" validate:"required,min=1,dive"`
}

var _ = Describe("Validation", func() {
	Describe("Struct", func() {
		It("passes a valid struct", func() {
			Expect(validation.Struct(sampleDTO{Name: "x", Rows: []sampleRow{{ID: "a", Phone: "1234"}}})).To(BeNil())
		})

		It("reports nested fields by json path", func() {
			err := validation.Struct(sampleDTO{Rows: []sampleRow{{ID: "toolong", Phone: "12a4"}}})

			Expect(err).NotTo(BeNil())
			Expect(err.Code).To(Equal(internal.ErrCodeValidationFailed))
			details, ok := err.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			var fields []string
			for _, e := range details.Errors {
				fields = append(fields, e.Field)
			}
			Expect(fields).To(ConsistOf("name", "rows[0].id", "rows[0].phone"))
		})

		It("requires at least one row", func() {
			err := validation.Struct(sampleDTO{Name: "x", Rows: []sampleRow{}})
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("rows"))
		})
	})

	Describe("ValidationBuilder", func() {
		It("collects every failing check", func() {
			v := validation.NewValidator()
			v.Field("amount", decimal.NewFromInt(-1)).NonNegative()
			v.Field("reward_percentage", decimal.NewFromInt(120)).DecimalRange(decimal.Zero, decimal.NewFromInt(100))
			v.Field("ids", []string{"a", "b", "a"}).Unique()

			err := v.Validate()

			Expect(err).NotTo(BeNil())
			Expect(err.Details.(internal.ValidationErrors).Errors).To(HaveLen(3))
		})

		It("returns nil when everything passes", func() {
			v := validation.NewValidator()
			v.Field("amount", decimal.NewFromInt(0)).NonNegative()
			Expect(v.Validate()).To(BeNil())
		})
	})

	Describe("ValidateWeekYear", func() {
		DescribeTable("week and year ranges",
			func(week, year int, valid bool) {
				err := validation.ValidateWeekYear(week, year, 2025)
				if valid {
					Expect(err).To(BeNil())
				} else {
					Expect(errors.Is(err, internal.ErrInvalidWeekYear)).To(BeTrue())
				}
			},
			Entry("first week", 1, 2025, true),
			Entry("last week of a 52 week year", 52, 2025, true),
			Entry("week 53 in a 52 week year", 53, 2025, false),
			Entry("week 53 in a 53 week year", 53, 2026, true),
			Entry("week zero", 0, 2025, false),
			Entry("past year", 10, 2024, false),
		)
	})
})
