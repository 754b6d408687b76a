package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// builtinProvider carries a minimal template set so a fresh install
// can scaffold without a templates directory.
type builtinProvider struct{}

func (builtinProvider) Available() []TemplateInfo {
	return []TemplateInfo{
		{ID: "java-quarkus", Name: "Quarkus Service", Description: "Java REST service on Quarkus"},
		{ID: "java-springboot", Name: "Spring Boot Service", Description: "Java REST service on Spring Boot"},
		{ID: "python-fastapi", Name: "FastAPI Service", Description: "Python REST service on FastAPI"},
	}
}

func (builtinProvider) Instantiate(templateID, targetDir string, vars map[string]string) error {
	files, ok := builtinFiles[templateID]
	if !ok {
		return fmt.Errorf("unknown template %s", templateID)
	}

	for rel, content := range files {
		dst := filepath.Join(targetDir, substitute(rel, vars))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		body := strings.TrimLeft(substitute(content, vars), "\n")
		if err := os.WriteFile(dst, []byte(body), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	return nil
}

var builtinFiles = map[string]map[string]string{
	"python-fastapi": {
		"requirements.txt": `
fastapi>=0.110
uvicorn[standard]>=0.29
pytest>=8.0
httpx>=0.27
`,
		"main.py": `
from fastapi import FastAPI

app = FastAPI(title="{{appName}}")


@app.get("/health")
def health():
    return {"status": "ok"}
`,
		"test_main.py": `
from fastapi.testclient import TestClient

from main import app

client = TestClient(app)


def test_health():
    response = client.get("/health")
    assert response.status_code == 200
    assert response.json() == {"status": "ok"}
`,
	},
	"java-springboot": {
		"pom.xml": `
<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0"
         xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
         xsi:schemaLocation="http://maven.apache.org/POM/4.0.0 https://maven.apache.org/xsd/maven-4.0.0.xsd">
  <modelVersion>4.0.0</modelVersion>
  <parent>
    <groupId>org.springframework.boot</groupId>
    <artifactId>spring-boot-starter-parent</artifactId>
    <version>3.3.4</version>
    <relativePath/>
  </parent>
  <groupId>com.example</groupId>
  <artifactId>{{appName}}</artifactId>
  <version>0.1.0</version>
  <properties>
    <java.version>21</java.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-web</artifactId>
    </dependency>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-actuator</artifactId>
    </dependency>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-test</artifactId>
      <scope>test</scope>
    </dependency>
  </dependencies>
  <build>
    <plugins>
      <plugin>
        <groupId>org.springframework.boot</groupId>
        <artifactId>spring-boot-maven-plugin</artifactId>
      </plugin>
    </plugins>
  </build>
</project>
`,
		"src/main/java/com/example/app/Application.java": `
package com.example.app;

import org.springframework.boot.SpringApplication;
import org.springframework.boot.autoconfigure.SpringBootApplication;

@SpringBootApplication
public class Application {
    public static void main(String[] args) {
        SpringApplication.run(Application.class, args);
    }
}
`,
		"src/main/resources/application.properties": `
spring.application.name={{appName}}
server.port=8080
management.endpoints.web.exposure.include=health
`,
		"src/test/java/com/example/app/ApplicationTests.java": `
package com.example.app;

import org.junit.jupiter.api.Test;
import org.springframework.boot.test.context.SpringBootTest;

@SpringBootTest
class ApplicationTests {
    @Test
    void contextLoads() {
    }
}
`,
	},
	"java-quarkus": {
		"pom.xml": `
<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0"
         xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
         xsi:schemaLocation="http://maven.apache.org/POM/4.0.0 https://maven.apache.org/xsd/maven-4.0.0.xsd">
  <modelVersion>4.0.0</modelVersion>
  <groupId>com.example</groupId>
  <artifactId>{{appName}}</artifactId>
  <version>0.1.0</version>
  <properties>
    <maven.compiler.release>21</maven.compiler.release>
    <quarkus.platform.version>3.15.1</quarkus.platform.version>
  </properties>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>io.quarkus.platform</groupId>
        <artifactId>quarkus-bom</artifactId>
        <version>${quarkus.platform.version}</version>
        <type>pom</type>
        <scope>import</scope>
      </dependency>
    </dependencies>
  </dependencyManagement>
  <dependencies>
    <dependency>
      <groupId>io.quarkus</groupId>
      <artifactId>quarkus-rest</artifactId>
    </dependency>
    <dependency>
      <groupId>io.quarkus</groupId>
      <artifactId>quarkus-junit5</artifactId>
      <scope>test</scope>
    </dependency>
  </dependencies>
  <build>
    <plugins>
      <plugin>
        <groupId>io.quarkus.platform</groupId>
        <artifactId>quarkus-maven-plugin</artifactId>
        <version>${quarkus.platform.version}</version>
        <extensions>true</extensions>
      </plugin>
    </plugins>
  </build>
</project>
`,
		"src/main/java/com/example/app/HealthResource.java": `
package com.example.app;

import jakarta.ws.rs.GET;
import jakarta.ws.rs.Path;
import jakarta.ws.rs.Produces;
import jakarta.ws.rs.core.MediaType;

@Path("/health")
public class HealthResource {
    @GET
    @Produces(MediaType.APPLICATION_JSON)
    public String health() {
        return "{\"status\":\"ok\"}";
    }
}
`,
		"src/main/resources/application.properties": `
quarkus.application.name={{appName}}
quarkus.http.port=8080
`,
	},
}
