package treasuryd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"revledger/native/escrow"
	"revledger/native/treasury"
)

// Definition declares one manager deployed at startup.
type Definition struct {
	ID     string    `yaml:"id"`
	Kind   string    `yaml:"kind"`
	Owner  string    `yaml:"owner"`
	Config yaml.Node `yaml:"config"`
}

// EscrowPool registers a pool with the in-process escrow before managers are
// deployed.
type EscrowPool struct {
	ID          string `yaml:"id"`
	Beneficiary string `yaml:"beneficiary"`
}

// Manifest is the managers file.
type Manifest struct {
	EscrowPools []EscrowPool `yaml:"escrow_pools"`
	Managers    []Definition `yaml:"managers"`
}

// LoadManifest reads the managers file. A missing file yields an empty manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read managers: %w", err)
	}
	return DecodeManifest(data)
}

// DecodeManifest parses a managers document.
func DecodeManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("decode managers: %w", err)
	}
	return manifest, nil
}

// Apply registers the manifest's escrow pools and deploys its managers in
// declaration order.
func (m Manifest) Apply(factory *treasury.Factory, mem *escrow.MemEscrow) error {
	for _, pool := range m.EscrowPools {
		beneficiary, err := treasury.ParseAddress(pool.Beneficiary)
		if err != nil {
			return fmt.Errorf("escrow pool %s: %w", pool.ID, err)
		}
		if err := mem.RegisterPool(parsePoolID(pool.ID), beneficiary); err != nil && !errors.Is(err, escrow.ErrPoolExists) {
			return err
		}
	}
	for _, def := range m.Managers {
		kind, err := treasury.ParseKind(def.Kind)
		if err != nil {
			return fmt.Errorf("manager %s: %w", def.ID, err)
		}
		owner, err := treasury.ParseAddress(def.Owner)
		if err != nil {
			return fmt.Errorf("manager %s owner: %w", def.ID, err)
		}
		var configData []byte
		if !def.Config.IsZero() {
			configData, err = yaml.Marshal(&def.Config)
			if err != nil {
				return fmt.Errorf("manager %s config: %w", def.ID, err)
			}
		}
		if _, err := factory.Deploy(def.ID, kind, owner, configData); err != nil {
			return err
		}
	}
	return nil
}
