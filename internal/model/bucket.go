package model

// Bucket is a price bucket inside a lending pool.
type Bucket struct {
	Index   uint64
	Price   float64
	Deposit float64
}
