package protocol

import (
	"fmt"
	"math"
)

// The pool's bucket grid spans 7388 price steps, each 0.5% apart. Index 0
// is the highest bucket.
const (
	bucketCount = 7388
	stepRatio   = 1.005
	maxPrice    = 1_004_968_987.606512354182109771
)

// IndexToPrice returns the price of the bucket at index.
func IndexToPrice(index uint64) (float64, error) {
	if index >= bucketCount {
		return 0, fmt.Errorf("bucket index %d out of range", index)
	}
	return maxPrice / math.Pow(stepRatio, float64(index)), nil
}

// PriceToIndex returns the index of the bucket containing price, the
// nearest bucket at or below it.
func PriceToIndex(price float64) (uint64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %v", price)
	}
	// The epsilon keeps exact bucket prices from landing one index low
	// through float jitter.
	index := math.Ceil(math.Log(maxPrice/price)/math.Log(stepRatio) - 1e-9)
	if index < 0 {
		index = 0
	}
	if index >= bucketCount {
		return 0, fmt.Errorf("price %v below the lowest bucket", price)
	}
	return uint64(index), nil
}
