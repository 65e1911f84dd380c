package finetune

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPMirror replicates archived run directories to a remote host over
// SFTP. Workers run on accelerator machines with small local disks, so an
// off-box copy of every run is kept alongside the local archive.
type SFTPMirror struct {
	Addr       string
	User       string
	Password   string
	PrivateKey string
	RemoteRoot string
}

// Push uploads localDir to {RemoteRoot}/{remoteName}, creating remote
// directories as needed. Existing remote files are overwritten.
func (m *SFTPMirror) Push(localDir, remoteName string) error {
	authMethods, err := m.authMethods()
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            m.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	client, err := ssh.Dial("tcp", m.Addr, config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", m.Addr, err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	remoteBase := path.Join(m.RemoteRoot, remoteName)
	return filepath.Walk(localDir, func(localPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		remotePath := path.Join(remoteBase, filepath.ToSlash(rel))

		if info.IsDir() {
			return sftpClient.MkdirAll(remotePath)
		}
		return m.pushFile(sftpClient, localPath, remotePath, info.Mode())
	})
}

func (m *SFTPMirror) pushFile(client *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}

	file, err := client.Create(remotePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Chmod(mode.Perm())
}

func (m *SFTPMirror) authMethods() ([]ssh.AuthMethod, error) {
	methods := make([]ssh.AuthMethod, 0, 2)
	if key := strings.TrimSpace(m.PrivateKey); key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(m.Password); password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no sftp mirror authentication method configured")
	}
	return methods, nil
}
