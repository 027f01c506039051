package cart

import "encoding/json"

// Wishlist is an ordered set of product ids.
type Wishlist struct {
	productIDs []int64
}

func NewWishlist() *Wishlist {
	return &Wishlist{}
}

// Add is a no-op when the product is already listed.
func (w *Wishlist) Add(productID int64) bool {
	if productID <= 0 || w.Contains(productID) {
		return false
	}
	w.productIDs = append(w.productIDs, productID)
	return true
}

func (w *Wishlist) Remove(productID int64) bool {
	for i, id := range w.productIDs {
		if id == productID {
			w.productIDs = append(w.productIDs[:i], w.productIDs[i+1:]...)
			return true
		}
	}
	return false
}

func (w *Wishlist) Contains(productID int64) bool {
	for _, id := range w.productIDs {
		if id == productID {
			return true
		}
	}
	return false
}

func (w *Wishlist) Count() int {
	return len(w.productIDs)
}

func (w *Wishlist) ProductIDs() []int64 {
	out := make([]int64, len(w.productIDs))
	copy(out, w.productIDs)
	return out
}

func (w *Wishlist) MarshalJSON() ([]byte, error) {
	ids := w.productIDs
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(struct {
		ProductIDs []int64 `json:"product_ids"`
	}{ids})
}

func (w *Wishlist) UnmarshalJSON(data []byte) error {
	var v struct {
		ProductIDs []int64 `json:"product_ids"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	w.productIDs = v.ProductIDs
	return nil
}
