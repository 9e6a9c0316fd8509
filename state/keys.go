package state

import (
	"encoding/binary"
	"encoding/hex"
)

const (
	deskKey       = "otc/desk"
	openOffersKey = "otc/open-offers"

	tokenPrefix       = "otc/token/"
	consignmentPrefix = "otc/consignment/"
	offerPrefix       = "otc/offer/"
	inventoryPrefix   = "otc/inventory/"
	beneficiaryPrefix = "otc/beneficiary/"
	accountPrefix     = "otc/account/"
)

func tokenKey(symbol string) []byte {
	return []byte(tokenPrefix + symbol)
}

func consignmentKey(id uint64) []byte {
	return idKey(consignmentPrefix, id)
}

func offerKey(id uint64) []byte {
	return idKey(offerPrefix, id)
}

func inventoryKey(symbol string) []byte {
	return []byte(inventoryPrefix + symbol)
}

func beneficiaryKey(addr [20]byte) []byte {
	return []byte(beneficiaryPrefix + hex.EncodeToString(addr[:]))
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr[:]))
}

func idKey(prefix string, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}
