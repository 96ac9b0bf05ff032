package shared

import "fmt"

// MaterialLockKey builds the advisory lock key serialising movements of one material.
func MaterialLockKey(materialID string) string {
	return fmt.Sprintf("stock:material:%s:lock", materialID)
}

// CategoryLockKey builds the advisory lock key serialising ledger postings of one category.
func CategoryLockKey(categoryID string) string {
	return fmt.Sprintf("ledger:category:%s:lock", categoryID)
}
