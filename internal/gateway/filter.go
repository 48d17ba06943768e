package gateway

import "strings"

// FilterPermanent は雇用形態に "permanent"（大文字小文字を区別しない）を含むレコードを返す。
// 雇用形態は employment_status、無ければ status を参照する。
func FilterPermanent(records []any) []any {
	return filter(records, isPermanent)
}

// FilterByOffice は指定した部署に所属するレコードを返す。
// office_uuid（無ければ office_id）、またはネストした office.uuid（無ければ office.id）が
// officeID と一致するものを所属とみなす。比較は文字列の完全一致。
func FilterByOffice(records []any, officeID string) []any {
	return filter(records, func(r map[string]any) bool {
		return inOffice(r, officeID)
	})
}

// filter は条件に一致するレコードを元の順序のまま新しいスライスに詰めて返す。
func filter(records []any, keep func(map[string]any) bool) []any {
	out := make([]any, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if ok && keep(m) {
			out = append(out, r)
		}
	}
	return out
}

func isPermanent(r map[string]any) bool {
	status, ok := scalarString(coalesce(r, "employment_status", "status"))
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(status), "permanent")
}

func inOffice(r map[string]any, officeID string) bool {
	if id, ok := scalarString(coalesce(r, "office_uuid", "office_id")); ok && id == officeID {
		return true
	}
	office, ok := r["office"].(map[string]any)
	if !ok {
		return false
	}
	id, ok := scalarString(coalesce(office, "uuid", "id"))
	return ok && id == officeID
}
