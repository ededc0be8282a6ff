package reconcile_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/store/memory"
)

var (
	jun12 = fund.NewDate(2025, 6, 12)
	jun13 = fund.NewDate(2025, 6, 13)
	jun15 = fund.NewDate(2025, 6, 15)
)

// record builds a fund row with share_class_assets set and the other
// critical fields fixed.
func record(region fund.Region, date fund.Date, code, assets string) fund.FundRecord {
	return fund.FundRecord{
		Region:           region,
		Date:             date,
		FundCode:         code,
		FundName:         "Fund " + code,
		Currency:         "USD",
		ShareClassAssets: fund.ParseNumber(assets),
		PortfolioAssets:  fund.ParseNumber("2500"),
		OneDayYield:      fund.ParseNumber("4.21"),
		SevenDayYield:    fund.ParseNumber("4.18"),
		WAM:              fund.ParseNumber("30"),
	}
}

// partition builds n funds F000..F(n-1) with equal assets.
func partition(region fund.Region, date fund.Date, n int, assets string) []fund.FundRecord {
	out := make([]fund.FundRecord, n)
	for i := range out {
		out[i] = record(region, date, fmt.Sprintf("F%03d", i), assets)
	}
	return out
}

func seed(t *testing.T, store *memory.Memory, records ...fund.FundRecord) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, store.Upsert(context.Background(), r))
	}
}

func stored(t *testing.T, store *memory.Memory, key fund.RecordKey) fund.FundRecord {
	t.Helper()
	recs, err := store.LoadPartition(context.Background(), key.Region, key.Date)
	require.NoError(t, err)
	for _, r := range recs {
		if r.FundCode == key.FundCode {
			return r
		}
	}
	t.Fatalf("no stored record for %s", key)
	return fund.FundRecord{}
}
