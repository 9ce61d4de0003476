package ztp

const veosZTPScript = `#!/bin/sh
# Arista vEOS zero-touch-provisioning bootstrap for lab {{.LabID}}.
ZTP_SERVER="{{.ServerHost}}"
curl -s -o /mnt/flash/startup-config "http://${ZTP_SERVER}/ztp/arista/$(hostname)-startup-config"
reload now
`

const junosZTPScript = `#!/bin/sh
# Juniper vEvolved zero-touch-provisioning bootstrap for lab {{.LabID}}.
ztp_server={{.ServerHost}}
op url fetch "http://${ztp_server}/ztp/juniper/$(request-hostname)-config.txt"
`

const ceosStartupConfigTmpl = `hostname {{.Hostname}}
{{- range .SSHKeys}}
username admin privilege 15 sshkey "{{.}}"
{{- end}}
ip name-server vrf default {{range .DNSServers}}{{.}} {{end}}
!
end
`

const aosConfigTmpl = `hostname {{.Hostname}}
{{- range .SSHKeys}}
ssh-user admin authorized-key "{{.}}"
{{- end}}
{{- range .DNSServers}}
ip dns server-address {{.}}
{{- end}}
`

const cumulusConfigTmpl = `hostname {{.Hostname}}
{{- range .SSHKeys}}
auth ssh-key admin "{{.}}"
{{- end}}
{{- range .DNSServers}}
dns nameserver {{.}}
{{- end}}
`

const ciscoConfigTmpl = `hostname {{.Hostname}}
!
interface {{.MgmtInterface}}
 ip address {{.MgmtIPv4}} 255.255.255.0
 no shutdown
!
{{- range .SSHKeyMD5s}}
ip ssh pubkey-chain
 username admin
  key-hash ssh-md5 {{.}}
{{- end}}
!
{{- range .DNSServers}}
ip name-server {{.}}
{{- end}}
end
`

const dnsmasqConfTmpl = `# sherpa-router dnsmasq driver for lab {{.LabID}}
dhcp-range={{.DHCPFrom}},{{.DHCPTo}},12h
dhcp-boot=tag:arista,veos-ztp.sh
dhcp-boot=tag:juniper,junos-ztp.sh
dhcp-option=option:tftp-server,{{.ServerHost}}
dhcp-option=option:bootfile-name,ztp-boot
{{- range .Entries}}
dhcp-host={{.MAC}},{{.IP}},{{.Hostname}}
{{- end}}
enable-tftp
tftp-root=/ztp
`
