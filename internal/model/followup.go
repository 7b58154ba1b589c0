package model

// PendingFollowUp 记录一个等待用户补充信息的多轮意图。
type PendingFollowUp struct {
	Intent        string
	PartialData   map[string]interface{}
	MissingFields []string
}

// Clone 返回一个不与原值共享 map 与切片的副本。
func (p PendingFollowUp) Clone() PendingFollowUp {
	out := PendingFollowUp{Intent: p.Intent}
	if p.PartialData != nil {
		out.PartialData = make(map[string]interface{}, len(p.PartialData))
		for k, v := range p.PartialData {
			out.PartialData[k] = v
		}
	}
	if p.MissingFields != nil {
		out.MissingFields = append([]string(nil), p.MissingFields...)
	}
	return out
}
