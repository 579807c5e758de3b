package verifycsv

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DownloadColumns is the batch file schema handed to businesses.
var DownloadColumns = []string{
	"transaction_id",
	"customer_feedback_id",
	"transaction_date",
	"amount_sek",
	"phone_last4",
	"store_code",
	"quality_score",
	"reward_percentage",
	"reward_amount_sek",
}

type DownloadRow struct {
	TransactionID      string
	CustomerFeedbackID string
	TransactionDate    time.Time
	AmountSEK          decimal.Decimal
	PhoneLast4         string
	StoreCode          string
	QualityScore       int
	RewardPercentage   decimal.Decimal
	RewardAmountSEK    decimal.Decimal
}

func WriteDownload(w io.Writer, rows []DownloadRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DownloadColumns); err != nil {
		return err
	}
	for _, r := range rows {
		date := ""
		if !r.TransactionDate.IsZero() {
			date = r.TransactionDate.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.TransactionID,
			r.CustomerFeedbackID,
			date,
			r.AmountSEK.StringFixed(2),
			r.PhoneLast4,
			r.StoreCode,
			strconv.Itoa(r.QualityScore),
			r.RewardPercentage.StringFixed(2),
			r.RewardAmountSEK.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
