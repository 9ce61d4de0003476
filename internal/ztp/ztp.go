// Package ztp renders the per-device-family zero-touch-provisioning
// artifacts for a lab (§4.D): boot scripts, startup configs, and the
// dnsmasq driver that serves them over DHCP/TFTP/HTTP.
//
// Rendering is deterministic: the same Input always produces the same
// bytes, which the up pipeline relies on when phase 8 is re-run after a
// resumed lab.
package ztp

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

// Record is one node's ZTP-relevant facts.
type Record struct {
	NodeName   string
	Hostname   string
	Model      ifreg.Model
	MgmtIPv4   string
	MgmtMAC    string
	SSHKeys    []string
}

// Input is everything the generator needs for one lab.
type Input struct {
	LabID      string
	LabName    string
	ServerHost string
	DNSServers []string
	DHCPFrom   string
	DHCPTo     string
	Nodes      []Record
}

// Generate renders every applicable family's artifacts under root
// (<server_root>/labs/<lab_id>/ztp/). It is safe to call twice with the same
// Input: files are overwritten with identical bytes.
func Generate(root string, in Input) error {
	nodes := make([]Record, len(in.Nodes))
	copy(nodes, in.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeName < nodes[j].NodeName })

	var veosNodes, juniperNodes bool
	for _, n := range nodes {
		switch n.Model {
		case ifreg.ModelAristaVEOS:
			veosNodes = true
		case ifreg.ModelJuniperVEvo:
			juniperNodes = true
		}
	}

	if veosNodes {
		if err := renderShared(root, "arista", "veos-ztp.sh", veosZTPScript, in); err != nil {
			return err
		}
	}
	if juniperNodes {
		if err := renderShared(root, "juniper", "junos-ztp.sh", junosZTPScript, in); err != nil {
			return err
		}
	}

	for _, n := range nodes {
		var dir, file, tmpl string
		data := map[string]interface{}{
			"Hostname":   n.Hostname,
			"SSHKeys":    n.SSHKeys,
			"DNSServers": in.DNSServers,
			"MgmtIPv4":   n.MgmtIPv4,
		}

		switch n.Model {
		case ifreg.ModelAristaCEOS:
			dir, file, tmpl = "arista", n.NodeName+"-startup-config", ceosStartupConfigTmpl
		case ifreg.ModelArubaAOSCX:
			dir, file, tmpl = "aruba", n.NodeName+"-aos-config.txt", aosConfigTmpl
		case ifreg.ModelCumulusLinux:
			dir, file, tmpl = "cumulus", n.NodeName+"-cumulus-config.txt", cumulusConfigTmpl
		case ifreg.ModelCiscoIOS:
			dir, file, tmpl = "cisco", n.NodeName+"-ios_config.txt", ciscoConfigTmpl
			data["SSHKeyMD5s"] = md5Hashes(n.SSHKeys)
			data["MgmtInterface"] = mustMgmtInterface(n.Model)
		case ifreg.ModelCiscoIOSXE:
			dir, file, tmpl = "cisco", n.NodeName+"-iosxe_config.txt", ciscoConfigTmpl
			data["SSHKeyMD5s"] = md5Hashes(n.SSHKeys)
			data["MgmtInterface"] = mustMgmtInterface(n.Model)
		default:
			continue
		}

		if err := renderFile(filepath.Join(root, dir, file), tmpl, data); err != nil {
			return err
		}
	}

	return renderFile(filepath.Join(root, "dnsmasq", "dnsmasq.conf"), dnsmasqConfTmpl, dnsmasqData(in, nodes))
}

func mustMgmtInterface(model ifreg.Model) string {
	name, err := ifreg.ManagementInterface(model)
	if err != nil {
		return ""
	}
	return name
}

func md5Hashes(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		sum := md5.Sum([]byte(k))
		out[i] = hex.EncodeToString(sum[:])
	}
	return out
}

func dnsmasqData(in Input, nodes []Record) map[string]interface{} {
	type macEntry struct {
		MAC, IP, Hostname string
	}
	entries := make([]macEntry, 0, len(nodes))
	for _, n := range nodes {
		if n.MgmtMAC == "" {
			continue
		}
		entries = append(entries, macEntry{MAC: n.MgmtMAC, IP: n.MgmtIPv4, Hostname: n.Hostname})
	}
	return map[string]interface{}{
		"LabID":      in.LabID,
		"DHCPFrom":   in.DHCPFrom,
		"DHCPTo":     in.DHCPTo,
		"ServerHost": in.ServerHost,
		"Entries":    entries,
	}
}

func renderShared(root, family, file, tmpl string, in Input) error {
	return renderFile(filepath.Join(root, family, file), tmpl, map[string]interface{}{
		"ServerHost": in.ServerHost,
		"LabID":      in.LabID,
	})
}

func renderFile(path, tmpl string, data interface{}) error {
	t, err := template.New(filepath.Base(path)).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("ztp: parse template for %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("ztp: render %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ztp: create dir for %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
