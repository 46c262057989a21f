package model

// MemberMeta is the metadata a member publishes through gossip
type MemberMeta struct {
	MemberID       string     `json:"member_id"`
	ProxyAddress   string     `json:"proxy_address"`
	PartitionCount int        `json:"partition_count"`
	Status         NodeStatus `json:"status"`
	Timestamp      int64      `json:"timestamp"`
}

// Member is a known grid member
type Member struct {
	ID           string
	ProxyAddress string
	GossipAddr   string
	Local        bool
}
