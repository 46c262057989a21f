package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// GossipService tracks grid membership. Joins and leaves update the
// partition ownership table and the proxy endpoint list.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	partitions *partition.Map
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	local   model.MemberMeta
	members map[string]model.Member
}

// NewGossipService creates the membership service. With gossip disabled the
// local member is the only member.
func NewGossipService(
	cfg *GossipConfig,
	memberID, proxyAddress string,
	partitions *partition.Map,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*GossipService, error) {
	gs := &GossipService{
		config:     cfg,
		partitions: partitions,
		metrics:    m,
		logger:     logger,
		local: model.MemberMeta{
			MemberID:       memberID,
			ProxyAddress:   proxyAddress,
			PartitionCount: partitions.Count(),
			Status:         model.NodeStatusHealthy,
			Timestamp:      time.Now().Unix(),
		},
		members: map[string]model.Member{
			memberID: {ID: memberID, ProxyAddress: proxyAddress, Local: true},
		},
	}
	gs.sync()

	if !cfg.Enabled {
		return gs, nil
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = memberID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}
	mlConfig.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// LocalMember returns the ID of this member
func (s *GossipService) LocalMember() string {
	return s.local.MemberID
}

// Enabled reports whether gossip is running
func (s *GossipService) Enabled() bool {
	return s.memberlist != nil
}

// GossipAddress returns the host:port other members join through, or ""
// when gossip is disabled
func (s *GossipService) GossipAddress() string {
	if s.memberlist == nil {
		return ""
	}
	return s.memberlist.LocalNode().Address()
}

// Members returns the known members ordered by ID
func (s *GossipService) Members() []model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProxyEndpoints returns the proxy addresses of the known members, local first
func (s *GossipService) ProxyEndpoints() []string {
	var out []string
	if s.local.ProxyAddress != "" {
		out = append(out, s.local.ProxyAddress)
	}
	for _, m := range s.Members() {
		if !m.Local && m.ProxyAddress != "" {
			out = append(out, m.ProxyAddress)
		}
	}
	return out
}

func (s *GossipService) join(m model.Member) {
	s.mu.Lock()
	s.members[m.ID] = m
	s.mu.Unlock()
	s.sync()
}

func (s *GossipService) leave(id string) {
	if id == s.local.MemberID {
		return
	}
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()
	s.sync()
}

func (s *GossipService) sync() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	s.partitions.SetMembers(ids)
	s.metrics.UpdateGossipMembers(len(ids))
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	data, _ := json.Marshal(s.local)
	s.mu.RUnlock()
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {}

// UpdateHealthStatus refreshes the status published to other members
func (s *GossipService) UpdateHealthStatus(status model.NodeStatus) {
	s.mu.Lock()
	s.local.Status = status
	s.local.Timestamp = time.Now().Unix()
	s.mu.Unlock()
	if s.memberlist != nil {
		if err := s.memberlist.UpdateNode(time.Second); err != nil {
			s.logger.Debug("Failed to publish node metadata", zap.Error(err))
		}
	}
}

// Shutdown leaves the cluster and stops gossip
func (s *GossipService) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to leave cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

func memberFromNode(node *memberlist.Node) model.Member {
	m := model.Member{ID: node.Name, GossipAddr: node.Address()}
	var meta model.MemberMeta
	if len(node.Meta) > 0 && json.Unmarshal(node.Meta, &meta) == nil {
		m.ProxyAddress = meta.ProxyAddress
	}
	return m
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == d.service.local.MemberID {
		return
	}
	m := memberFromNode(node)
	d.service.logger.Info("Member joined",
		zap.String("member_id", node.Name),
		zap.String("addr", node.Address()),
		zap.String("proxy", m.ProxyAddress))
	d.service.join(m)
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Member left", zap.String("member_id", node.Name))
	d.service.leave(node.Name)
}

// NotifyUpdate is called when a node's metadata changes
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	if node.Name == d.service.local.MemberID {
		return
	}
	d.service.logger.Debug("Member updated", zap.String("member_id", node.Name))
	d.service.join(memberFromNode(node))
}
