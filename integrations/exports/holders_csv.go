package exports

import (
	"bytes"
	"encoding/csv"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/native/sale"
)

// Holder pairs an address with its sale record.
type Holder struct {
	Address common.Address
	Account *sale.Account
}

// HoldersCSV builds a CSV snapshot of every holder's balances and returns it
// with a SHA-256 checksum.
func HoldersCSV(holders []Holder) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"address", "balance", "contribution", "purchased_units", "pending_refund", "whitelisted"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, h := range holders {
		whitelisted := h.Account != nil && h.Account.Whitelisted
		record := append(holderRecord(h), strconv.FormatBool(whitelisted))
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func holderRecord(h Holder) []string {
	account := h.Account
	if account == nil {
		account = sale.NewAccount()
	}
	return []string{
		h.Address.Hex(),
		amountString(account.Balance),
		amountString(account.Contribution),
		amountString(account.PurchasedUnits),
		amountString(account.PendingRefund),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
